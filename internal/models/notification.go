package models

import (
	"sort"
	"time"
)

// NotificationType classifies in-app notification records.
type NotificationType string

const (
	NotificationNewMessage            NotificationType = "new_message"
	NotificationCustomerSignupRequest NotificationType = "customer_signup_request"
	NotificationOrderCreated          NotificationType = "order_created"
	NotificationOrderUpdated          NotificationType = "order_updated"
	NotificationInvoiceOverdue        NotificationType = "invoice_overdue"
	NotificationPaymentReceived       NotificationType = "payment_received"
	NotificationAccountCreated        NotificationType = "account_created"
	NotificationAccountInvitation     NotificationType = "account_invitation"
)

// NotificationData is the payload of a notification. New-message
// notifications carry the sender and a content preview.
type NotificationData struct {
	ConversationID string `json:"conversationId,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
	SenderName     string `json:"senderName,omitempty"`
	Preview        string `json:"preview,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
}

// Notification is an in-app notification record.
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	RecipientID string           `json:"recipientId"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	CreatedAt   time.Time        `json:"createdAt"`
	Read        bool             `json:"read"`
	ReadAt      time.Time        `json:"readAt,omitempty"`
	Data        NotificationData `json:"data"`
}

// Fields encodes n as document data. Empty payload keys are omitted.
func (n Notification) Fields() map[string]any {
	data := map[string]any{}
	for key, value := range map[string]string{
		FieldConversationID: n.Data.ConversationID,
		FieldSenderID:       n.Data.SenderID,
		FieldSenderName:     n.Data.SenderName,
		"preview":           n.Data.Preview,
		"orderId":           n.Data.OrderID,
	} {
		if value != "" {
			data[key] = value
		}
	}
	fields := map[string]any{
		FieldType:        string(n.Type),
		FieldRecipientID: n.RecipientID,
		FieldTitle:       n.Title,
		FieldMessage:     n.Message,
		FieldCreatedAt:   FormatTime(n.CreatedAt),
		FieldRead:        n.Read,
		FieldData:        data,
	}
	if !n.ReadAt.IsZero() {
		fields[FieldReadAt] = FormatTime(n.ReadAt)
	}
	return fields
}

// NotificationFromDocument decodes a notifications document.
func NotificationFromDocument(id string, data map[string]any) Notification {
	payload := mapField(data, FieldData)
	return Notification{
		ID:          id,
		Type:        NotificationType(stringField(data, FieldType)),
		RecipientID: stringField(data, FieldRecipientID),
		Title:       stringField(data, FieldTitle),
		Message:     stringField(data, FieldMessage),
		CreatedAt:   ParseTime(data[FieldCreatedAt]),
		Read:        boolField(data, FieldRead),
		ReadAt:      ParseTime(data[FieldReadAt]),
		Data: NotificationData{
			ConversationID: stringField(payload, FieldConversationID),
			SenderID:       stringField(payload, FieldSenderID),
			SenderName:     stringField(payload, FieldSenderName),
			Preview:        stringField(payload, "preview"),
			OrderID:        stringField(payload, "orderId"),
		},
	}
}

// SortNotifications orders newest first, then by id.
func SortNotifications(list []Notification) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
