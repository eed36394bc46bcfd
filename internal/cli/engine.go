package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/tOgg1/courier/internal/api"
	"github.com/tOgg1/courier/internal/messaging"
)

// settleQuiet is how long the state must stay unchanged before a one-shot
// command treats the streams as loaded.
const settleQuiet = 150 * time.Millisecond

// engine is a single-user session over the configured store, used by the
// commands that act as a user.
type engine struct {
	backend  *backend
	registry *api.Registry
	session  *api.Session
}

func (a *app) startEngine(ctx context.Context, userID string) (*engine, error) {
	b, err := openBackend(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	user, err := b.Directory.Lookup(ctx, userID)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("look up %s: %w", userID, err)
	}

	registry := api.NewRegistry(b.Store, b.Directory, a.cfg, nil)
	sess, err := registry.Acquire(ctx, user.Identity())
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return &engine{backend: b, registry: registry, session: sess}, nil
}

func (e *engine) Close() error {
	e.registry.Close()
	return e.backend.Close()
}

// settle waits until the state has been quiet for settleQuiet, or until
// ready reports true and the state is quiet, bounded by ctx.
func (e *engine) settle(ctx context.Context, ready func(messaging.State) bool) (messaging.State, error) {
	states, cancel := e.session.Messaging.Subscribe()
	defer cancel()

	var state messaging.State
	quiet := time.NewTimer(settleQuiet)
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case next, ok := <-states:
			if !ok {
				return state, fmt.Errorf("session ended")
			}
			state = next
			quiet.Reset(settleQuiet)
		case <-quiet.C:
			if ready == nil || ready(state) {
				return state, nil
			}
			quiet.Reset(settleQuiet)
		}
	}
}
