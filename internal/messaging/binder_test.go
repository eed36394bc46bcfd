package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/courier/internal/models"
	"github.com/tOgg1/courier/internal/session"
)

func TestBindFollowsSession(t *testing.T) {
	h := newHarness(t)
	provider := session.NewMemory()

	stop := Bind(context.Background(), provider, h.svc)
	defer stop()
	require.Nil(t, h.svc.Identity())

	require.NoError(t, provider.SignIn(h.identity("A")))
	require.Eventually(t, func() bool {
		id := h.svc.Identity()
		return id != nil && id.ID == "A"
	}, waitFor, tick)

	require.NoError(t, provider.SignIn(h.identity("U1")))
	require.Eventually(t, func() bool {
		id := h.svc.Identity()
		return id != nil && id.ID == "U1"
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return h.store.live(models.CollectionConversations) == 1
	}, waitFor, tick)

	provider.SignOut()
	require.Eventually(t, func() bool { return h.svc.Identity() == nil }, waitFor, tick)
	require.Equal(t, 0, h.store.live(models.CollectionConversations))
}

func TestBindStopDetaches(t *testing.T) {
	h := newHarness(t)
	provider := session.NewMemory()
	stop := Bind(context.Background(), provider, h.svc)
	stop()
	stop()

	require.NoError(t, provider.SignIn(h.identity("A")))
	require.Never(t, func() bool { return h.svc.Identity() != nil }, 100*time.Millisecond, tick)
}
