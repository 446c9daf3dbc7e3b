package webhooks_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsentry/solsentry/internal/testutil"
	"github.com/solsentry/solsentry/internal/webhooks"
)

func testSubscription(id, owner string) *webhooks.Subscription {
	return &webhooks.Subscription{
		ID:        id,
		Owner:     owner,
		URL:       "https://alerts.example.com/hook",
		Secret:    "s3cret",
		Events:    []webhooks.EventType{webhooks.EventExploitDetected},
		Protocols: []string{"aave"},
		Active:    true,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db := testutil.StartPostgres(t)
	store := webhooks.NewPostgresStore(db)
	ctx := context.Background()

	sub := testSubscription("wh_pg1", "alice")
	require.NoError(t, store.Create(ctx, sub))

	got, err := store.Get(ctx, "wh_pg1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, sub.Secret, got.Secret)
	assert.Equal(t, []webhooks.EventType{webhooks.EventExploitDetected}, got.Events)
	assert.Equal(t, []string{"aave"}, got.Protocols)
	assert.True(t, got.Active)
}

func TestPostgresStore_GetByEvent(t *testing.T) {
	db := testutil.StartPostgres(t)
	store := webhooks.NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSubscription("wh_e1", "alice")))

	breaker := testSubscription("wh_e2", "bob")
	breaker.Events = []webhooks.EventType{webhooks.EventBreakerStateChanged}
	require.NoError(t, store.Create(ctx, breaker))

	inactive := testSubscription("wh_e3", "carol")
	inactive.Active = false
	require.NoError(t, store.Create(ctx, inactive))

	got, err := store.GetByEvent(ctx, webhooks.EventExploitDetected)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "wh_e1", got[0].ID)
}

func TestPostgresStore_UpdateDeliveryState(t *testing.T) {
	db := testutil.StartPostgres(t)
	store := webhooks.NewPostgresStore(db)
	ctx := context.Background()

	sub := testSubscription("wh_u1", "alice")
	require.NoError(t, store.Create(ctx, sub))

	now := time.Now().UTC().Truncate(time.Microsecond)
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	require.NoError(t, store.Update(ctx, sub))

	got, err := store.Get(ctx, "wh_u1")
	require.NoError(t, err)
	require.NotNil(t, got.LastSuccess)
	assert.True(t, got.LastSuccess.Equal(now))

	sub.Active = false
	sub.LastError = "status 500"
	sub.ConsecutiveFailures = 10
	require.NoError(t, store.Update(ctx, sub))

	got, err = store.Get(ctx, "wh_u1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "status 500", got.LastError)
	assert.Equal(t, 10, got.ConsecutiveFailures)
}

func TestPostgresStore_Delete(t *testing.T) {
	db := testutil.StartPostgres(t)
	store := webhooks.NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSubscription("wh_d1", "alice")))
	require.NoError(t, store.Delete(ctx, "wh_d1"))

	_, err := store.Get(ctx, "wh_d1")
	assert.Error(t, err)
}
