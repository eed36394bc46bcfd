package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/models"
)

// StoreSource reads users and customers from the document store. Customer
// records are surfaced as customer-role users keyed by their firebase uid
// unless a users document with that id already exists.
type StoreSource struct {
	store docstore.Store
}

var (
	_ UserSource       = (*StoreSource)(nil)
	_ AssignmentLookup = (*StoreSource)(nil)
)

// NewStoreSource creates a source over store.
func NewStoreSource(store docstore.Store) *StoreSource {
	return &StoreSource{store: store}
}

// ListUsers returns every user and every linked customer.
func (s *StoreSource) ListUsers(ctx context.Context) ([]models.User, error) {
	userDocs, err := s.store.List(ctx, docstore.From(models.CollectionUsers))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	customerDocs, err := s.store.List(ctx, docstore.From(models.CollectionCustomers))
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	users := make([]models.User, 0, len(userDocs)+len(customerDocs))
	seen := make(map[string]bool, len(userDocs))
	for _, doc := range userDocs {
		user := models.UserFromDocument(doc.ID, doc.Data)
		seen[user.ID] = true
		users = append(users, user)
	}
	for _, doc := range customerDocs {
		customer := models.CustomerFromDocument(doc.ID, doc.Data)
		if customer.FirebaseUID == "" || seen[customer.FirebaseUID] {
			continue
		}
		seen[customer.FirebaseUID] = true
		users = append(users, customer.User())
	}
	return users, nil
}

// GetUser returns a users document, or the customer linked to id.
func (s *StoreSource) GetUser(ctx context.Context, id string) (models.User, error) {
	if id == "" {
		return models.User{}, models.ErrInvalidUserID
	}
	doc, err := s.store.Get(ctx, models.CollectionUsers, id)
	if err == nil {
		return models.UserFromDocument(doc.ID, doc.Data), nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return models.User{}, fmt.Errorf("failed to get user %s: %w", id, err)
	}

	docs, err := s.store.List(ctx, docstore.From(models.CollectionCustomers).Where(models.FieldFirebaseUID, docstore.OpEqual, id))
	if err != nil {
		return models.User{}, fmt.Errorf("failed to look up customer %s: %w", id, err)
	}
	if len(docs) == 0 {
		return models.User{}, fmt.Errorf("%s: %w", id, ErrUserNotFound)
	}
	return models.CustomerFromDocument(docs[0].ID, docs[0].Data).User(), nil
}

// AssignedCustomers returns the user ids of customers whose salesAgentId is
// agentID.
func (s *StoreSource) AssignedCustomers(ctx context.Context, agentID string) ([]string, error) {
	docs, err := s.store.List(ctx, docstore.From(models.CollectionCustomers).Where(models.FieldSalesAgentID, docstore.OpEqual, agentID))
	if err != nil {
		return nil, fmt.Errorf("failed to list customers assigned to %s: %w", agentID, err)
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		customer := models.CustomerFromDocument(doc.ID, doc.Data)
		if customer.FirebaseUID != "" {
			ids = append(ids, customer.FirebaseUID)
		}
	}
	return ids, nil
}
