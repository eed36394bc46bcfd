package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/models"
)

type staticUsers []models.User

func (s staticUsers) ListUsers(context.Context) ([]models.User, error) {
	return append([]models.User(nil), s...), nil
}

func (s staticUsers) GetUser(_ context.Context, id string) (models.User, error) {
	for _, u := range s {
		if u.ID == id {
			return u, nil
		}
	}
	return models.User{}, ErrUserNotFound
}

type assignmentFunc func(ctx context.Context, agentID string) ([]string, error)

func (f assignmentFunc) AssignedCustomers(ctx context.Context, agentID string) ([]string, error) {
	return f(ctx, agentID)
}

func userIDs(users []models.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

var fixture = staticUsers{
	{ID: "BM1", Name: "Beth", Role: models.RoleBrandManager},
	{ID: "BM2", Name: "adam", Role: models.RoleBrandManager, Online: true},
	{ID: "U1", Name: "Uma", Role: models.RoleSalesAgent},
	{ID: "U2", Name: "Ulf", Role: models.RoleSalesAgent},
	{ID: "C1", Name: "Carl", Role: models.RoleCustomer},
	{ID: "C2", Name: "Cleo", Role: models.RoleCustomer},
	{ID: "A1", Name: "Ada", Role: models.RoleAdmin},
	{ID: "X1", Name: "Xeno", Role: models.RoleUnknown},
}

func assignedTo(agent string, customers ...string) AssignmentLookup {
	return assignmentFunc(func(_ context.Context, agentID string) ([]string, error) {
		if agentID == agent {
			return customers, nil
		}
		return nil, nil
	})
}

func TestResolveRoleRules(t *testing.T) {
	resolver := NewResolver(fixture, assignedTo("U1", "C1"))

	tests := []struct {
		name string
		me   models.Identity
		want []string
	}{
		{
			name: "customer sees brand managers",
			me:   models.Identity{ID: "C1", Role: models.RoleCustomer},
			want: []string{"BM2", "BM1"},
		},
		{
			name: "sales agent sees brand managers and assigned customers",
			me:   models.Identity{ID: "U1", Role: models.RoleSalesAgent},
			want: []string{"BM2", "BM1", "C1"},
		},
		{
			name: "unassigned sales agent sees brand managers",
			me:   models.Identity{ID: "U2", Role: models.RoleSalesAgent},
			want: []string{"BM2", "BM1"},
		},
		{
			name: "brand manager sees everyone else",
			me:   models.Identity{ID: "BM1", Role: models.RoleBrandManager},
			want: []string{"BM2", "A1", "C1", "C2", "U2", "U1", "X1"},
		},
		{
			name: "admin sees everyone else",
			me:   models.Identity{ID: "A1", Role: models.RoleAdmin},
			want: []string{"BM2", "BM1", "C1", "C2", "U2", "U1", "X1"},
		},
		{
			name: "unknown role sees nobody",
			me:   models.Identity{ID: "X1", Role: models.RoleUnknown},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(context.Background(), tt.me)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			require.Equal(t, tt.want, userIDs(got))
		})
	}
}

func TestResolveSalesAgentFailsClosedOnAssignmentError(t *testing.T) {
	resolver := NewResolver(fixture, assignmentFunc(func(context.Context, string) ([]string, error) {
		return nil, errors.New("lookup unavailable")
	}))

	got, err := resolver.Resolve(context.Background(), models.Identity{ID: "U1", Role: models.RoleSalesAgent})
	require.NoError(t, err)
	require.Equal(t, []string{"BM2", "BM1"}, userIDs(got))
}

func TestCounterparts(t *testing.T) {
	ctx := context.Background()
	byID := make(map[string]models.User, len(fixture))
	for _, u := range fixture {
		byID[u.ID] = u
	}

	tests := []struct {
		name    string
		lookup  AssignmentLookup
		me      models.Identity
		allowed []string
		denied  []string
	}{
		{
			name:    "customer keeps brand managers and admins",
			lookup:  assignedTo("U1", "C1"),
			me:      models.Identity{ID: "C1", Role: models.RoleCustomer},
			allowed: []string{"BM1", "BM2", "A1"},
			denied:  []string{"U1", "C2", "X1"},
		},
		{
			name:    "sales agent keeps brand managers and assigned customers",
			lookup:  assignedTo("U1", "C1"),
			me:      models.Identity{ID: "U1", Role: models.RoleSalesAgent},
			allowed: []string{"BM1", "C1"},
			denied:  []string{"C2", "U2", "A1", "X1", "U1"},
		},
		{
			name: "sales agent keeps brand managers when assignments fail",
			lookup: assignmentFunc(func(context.Context, string) ([]string, error) {
				return nil, errors.New("lookup unavailable")
			}),
			me:      models.Identity{ID: "U1", Role: models.RoleSalesAgent},
			allowed: []string{"BM1", "BM2"},
			denied:  []string{"C1", "C2"},
		},
		{
			name:    "brand manager keeps everyone else",
			lookup:  assignedTo("U1", "C1"),
			me:      models.Identity{ID: "BM1", Role: models.RoleBrandManager},
			allowed: []string{"BM2", "U1", "C2", "A1", "X1"},
			denied:  []string{"BM1"},
		},
		{
			name:   "unknown role keeps nobody",
			lookup: assignedTo("U1", "C1"),
			me:     models.Identity{ID: "X1", Role: models.RoleUnknown},
			denied: []string{"BM1", "A1", "C1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow := NewResolver(fixture, tt.lookup).Counterparts(ctx, tt.me)
			for _, id := range tt.allowed {
				if !allow(byID[id]) {
					t.Fatalf("expected %s to be allowed", id)
				}
			}
			for _, id := range tt.denied {
				if allow(byID[id]) {
					t.Fatalf("expected %s to be denied", id)
				}
			}
		})
	}
}

func TestResolveVisibilityContainment(t *testing.T) {
	resolver := NewResolver(fixture, assignedTo("U1", "C1"))
	got, err := resolver.Resolve(context.Background(), models.Identity{ID: "U1", Role: models.RoleSalesAgent})
	require.NoError(t, err)

	ids := userIDs(got)
	require.NotContains(t, ids, "C2")
	require.NotContains(t, ids, "U1")
	for _, u := range fixture {
		if u.Role == models.RoleBrandManager {
			require.Contains(t, ids, u.ID)
		}
	}
}

func TestResolveRequiresIdentity(t *testing.T) {
	resolver := NewResolver(fixture, nil)
	_, err := resolver.Resolve(context.Background(), models.Identity{Role: models.RoleAdmin})
	require.ErrorIs(t, err, models.ErrInvalidUserID)
}

func TestStoreSourceScenario(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	defer store.Close()

	require.NoError(t, store.Set(ctx, models.CollectionUsers, "U1", map[string]any{"name": "Uma", "role": "salesAgent"}))
	require.NoError(t, store.Set(ctx, models.CollectionUsers, "BM1", map[string]any{"customer_name": "Bea", "role": "brand_manager", "isOnline": true}))
	require.NoError(t, store.Set(ctx, models.CollectionCustomers, "cust-1", map[string]any{"firebase_uid": "C1", "salesAgentId": "U1", "name": "Carl"}))
	require.NoError(t, store.Set(ctx, models.CollectionCustomers, "cust-2", map[string]any{"firebase_uid": "C2", "salesAgentId": "U9", "name": "Cleo"}))
	require.NoError(t, store.Set(ctx, models.CollectionCustomers, "cust-3", map[string]any{"name": "Unlinked"}))

	source := NewStoreSource(store)
	resolver := NewResolver(source, source)

	got, err := resolver.Resolve(ctx, models.Identity{ID: "U1", Role: models.RoleSalesAgent})
	require.NoError(t, err)
	require.Equal(t, []string{"BM1", "C1"}, userIDs(got))
	require.Equal(t, "Bea", got[0].Name)
	require.True(t, got[0].Online)

	c2, err := source.GetUser(ctx, "C2")
	require.NoError(t, err)
	require.Equal(t, models.RoleCustomer, c2.Role)
	require.Equal(t, "Cleo", c2.Name)

	_, err = source.GetUser(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}
