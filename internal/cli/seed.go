package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/models"
)

// fixture is the seed file layout.
type fixture struct {
	Users []struct {
		ID     string `yaml:"id"`
		Name   string `yaml:"name"`
		Email  string `yaml:"email"`
		Role   string `yaml:"role"`
		Online bool   `yaml:"online"`
	} `yaml:"users"`
	Customers []struct {
		ID           string `yaml:"id"`
		FirebaseUID  string `yaml:"firebase_uid"`
		SalesAgentID string `yaml:"sales_agent_id"`
		Name         string `yaml:"name"`
		Email        string `yaml:"email"`
	} `yaml:"customers"`
}

func loadFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// apply writes every user and customer, returning how many of each.
func (f *fixture) apply(ctx context.Context, store docstore.Store) (int, int, error) {
	for i, entry := range f.Users {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return 0, 0, fmt.Errorf("users[%d]: id is required", i)
		}
		user := models.User{
			ID:     id,
			Name:   entry.Name,
			Email:  entry.Email,
			Role:   models.ParseRole(entry.Role),
			Online: entry.Online,
		}
		if !user.Role.Valid() {
			return 0, 0, fmt.Errorf("users[%d]: %w: %q", i, models.ErrInvalidRole, entry.Role)
		}
		if err := store.Set(ctx, models.CollectionUsers, id, user.Fields()); err != nil {
			return 0, 0, err
		}
	}
	for i, entry := range f.Customers {
		customer := models.Customer{
			ID:           strings.TrimSpace(entry.ID),
			FirebaseUID:  strings.TrimSpace(entry.FirebaseUID),
			SalesAgentID: strings.TrimSpace(entry.SalesAgentID),
			Name:         entry.Name,
			Email:        entry.Email,
		}
		if customer.ID == "" || customer.FirebaseUID == "" {
			return 0, 0, fmt.Errorf("customers[%d]: id and firebase_uid are required", i)
		}
		if err := store.Set(ctx, models.CollectionCustomers, customer.ID, customer.Fields()); err != nil {
			return 0, 0, err
		}
	}
	return len(f.Users), len(f.Customers), nil
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load users and customers from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadFixture(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, err := openBackend(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			users, customers, err := f.apply(ctx, b.Store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d customers\n", users, customers)
			return nil
		},
	}
}
