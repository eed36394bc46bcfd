package models

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidUserID = errors.New("user id is required")
	ErrInvalidRole   = errors.New("role is not recognised")
)

// Role is a dashboard user's role.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleSalesAgent   Role = "salesAgent"
	RoleBrandManager Role = "brandManager"
	RoleAdmin        Role = "admin"
	RoleUnknown      Role = "unknown"
)

// ParseRole normalizes the role spellings found in stored documents.
func ParseRole(value string) Role {
	key := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(value)))
	switch key {
	case "customer":
		return RoleCustomer
	case "salesagent":
		return RoleSalesAgent
	case "brandmanager":
		return RoleBrandManager
	case "admin":
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSalesAgent, RoleBrandManager, RoleAdmin:
		return true
	}
	return false
}

// User is a directory entry. The engine never writes users.
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	Role     Role      `json:"role"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// Identity is the signed-in user as reported by the session provider.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Validate checks the identity is usable for messaging.
func (i Identity) Validate() error {
	validation := &ValidationErrors{}
	validation.Require("id", i.ID, ErrInvalidUserID)
	if i.Role != RoleUnknown && !i.Role.Valid() {
		validation.Add("role", ErrInvalidRole)
	}
	return validation.Err()
}

// Identity returns the session view of u.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Name: u.Name, Role: u.Role}
}

// Customer is a record in the customers collection. FirebaseUID links it to
// the customer's user id; SalesAgentID is the assigned agent.
type Customer struct {
	ID           string `json:"id"`
	FirebaseUID  string `json:"firebase_uid"`
	SalesAgentID string `json:"salesAgentId,omitempty"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
}

// UserFromDocument decodes a users document, normalizing the name and
// presence field variants.
func UserFromDocument(id string, data map[string]any) User {
	name := stringField(data, FieldName, "customer_name", "contact_name", "displayName")
	if name == "" {
		name = "Unknown"
	}
	online := boolField(data, FieldOnline, "isOnline")
	return User{
		ID:       id,
		Name:     name,
		Email:    stringField(data, FieldEmail),
		Role:     ParseRole(stringField(data, FieldRole)),
		Online:   online,
		LastSeen: ParseTime(data[FieldLastSeen]),
	}
}

// Fields encodes u as document data.
func (u User) Fields() map[string]any {
	return map[string]any{
		FieldName:     u.Name,
		FieldEmail:    u.Email,
		FieldRole:     string(u.Role),
		FieldOnline:   u.Online,
		FieldLastSeen: FormatTime(u.LastSeen),
	}
}

// CustomerFromDocument decodes a customers document.
func CustomerFromDocument(id string, data map[string]any) Customer {
	name := stringField(data, FieldName, "customer_name", "contact_name", "company_name")
	if name == "" {
		name = "Unknown"
	}
	return Customer{
		ID:           id,
		FirebaseUID:  stringField(data, FieldFirebaseUID, "firebaseUid"),
		SalesAgentID: stringField(data, FieldSalesAgentID, "sales_agent_id"),
		Name:         name,
		Email:        stringField(data, FieldEmail),
	}
}

// Fields encodes c as document data.
func (c Customer) Fields() map[string]any {
	return map[string]any{
		FieldFirebaseUID:  c.FirebaseUID,
		FieldSalesAgentID: c.SalesAgentID,
		FieldName:         c.Name,
		FieldEmail:        c.Email,
	}
}

// User returns the directory entry for a customer record.
func (c Customer) User() User {
	return User{ID: c.FirebaseUID, Name: c.Name, Email: c.Email, Role: RoleCustomer}
}
