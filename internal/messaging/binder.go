package messaging

import (
	"context"
	"sync"

	"github.com/tOgg1/courier/internal/session"
)

// Bind drives svc from provider: sign-in starts it, sign-out disposes it and
// a user switch does both. The returned stop func detaches and waits.
func Bind(ctx context.Context, provider session.Provider, svc *Service) func() {
	updates, cancelWatch := provider.Watch()
	ctx, cancel := context.WithCancel(ctx)

	follow := func() {
		current := provider.Current()
		if current == nil {
			svc.Dispose()
			return
		}
		if err := svc.Init(ctx, *current); err != nil {
			svc.logger.Warn().Err(err).Str("user_id", current.ID).Msg("failed to start messaging session")
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		follow()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-updates:
				if !ok {
					return
				}
				follow()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			cancelWatch()
			wg.Wait()
		})
	}
}
