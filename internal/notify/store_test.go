package notify

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/vnfweave/internal/store"
)

func subscriptionStores(t *testing.T) map[string]SubscriptionStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]SubscriptionStore{
		"memory": NewMemorySubscriptionStore(),
		"redis":  NewRedisSubscriptionStore(client),
	}
}

func TestSubscriptionStoreCRUD(t *testing.T) {
	for name, st := range subscriptionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sub := &Subscription{
				ID:          "sub-1",
				CallbackURI: "http://callbacks.example.com/lccn",
				Filter: SubscriptionFilter{
					VnfInstanceIDs: []string{"vnf-1"},
				},
			}
			require.NoError(t, st.Create(ctx, sub))
			require.False(t, sub.CreatedAt.IsZero())

			// Duplicate ids are rejected.
			require.ErrorIs(t, st.Create(ctx, &Subscription{ID: "sub-1", CallbackURI: "http://other"}), store.ErrAlreadyExists)

			got, err := st.Get(ctx, "sub-1")
			require.NoError(t, err)
			require.Equal(t, sub.CallbackURI, got.CallbackURI)
			require.Equal(t, []string{"vnf-1"}, got.Filter.VnfInstanceIDs)

			require.NoError(t, st.Create(ctx, &Subscription{ID: "sub-2", CallbackURI: "http://two"}))

			subs, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, subs, 2)

			require.NoError(t, st.Delete(ctx, "sub-1"))
			_, err = st.Get(ctx, "sub-1")
			require.ErrorIs(t, err, store.ErrNotFound)

			subs, err = st.List(ctx)
			require.NoError(t, err)
			require.Len(t, subs, 1)
		})
	}
}

func TestSubscriptionStoreNotFound(t *testing.T) {
	for name, st := range subscriptionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := st.Get(ctx, "missing")
			require.ErrorIs(t, err, store.ErrNotFound)

			require.ErrorIs(t, st.Delete(ctx, "missing"), store.ErrNotFound)
		})
	}
}
