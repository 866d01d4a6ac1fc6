package store

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiercache/tiercache/internal/coordinator"
	tcerrors "github.com/tiercache/tiercache/pkg/errors"
)

func newCoordinatorClient(t *testing.T) *CoordinatorStore {
	t.Helper()
	actor, err := coordinator.NewActor(nil, nil)
	require.NoError(t, err)
	t.Cleanup(actor.Stop)

	server := coordinator.NewServer(coordinator.DefaultServerConfig(), actor, nil, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return NewCoordinatorStore(&CoordinatorConfig{
		BaseURL:        ts.URL,
		RequestTimeout: 2 * time.Second,
	}, nil)
}

func TestCoordinatorStore_RoundTrip(t *testing.T) {
	client := newCoordinatorClient(t)
	ctx := context.Background()

	require.NoError(t, client.Put(ctx, "sentiment:AAPL", []byte("bullish"), time.Minute))

	data, err := client.Get(ctx, "sentiment:AAPL")
	require.NoError(t, err)
	assert.Equal(t, []byte("bullish"), data)

	require.NoError(t, client.Delete(ctx, "sentiment:AAPL"))

	data, err = client.Get(ctx, "sentiment:AAPL")
	require.NoError(t, err)
	assert.Nil(t, data, "deleted key should miss")
}

func TestCoordinatorStore_MissIsNilNil(t *testing.T) {
	client := newCoordinatorClient(t)

	data, err := client.Get(context.Background(), "never-written")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestCoordinatorStore_ListUnsupported(t *testing.T) {
	client := newCoordinatorClient(t)

	assert.False(t, client.Capabilities().List)
	_, err := client.List(context.Background(), "x", "")
	assert.True(t, tcerrors.IsCode(err, tcerrors.ErrCodeCapabilityGap))
}

func TestCoordinatorStore_Clear(t *testing.T) {
	client := newCoordinatorClient(t)
	ctx := context.Background()

	require.NoError(t, client.Put(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, client.Put(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, client.Clear(ctx))

	data, err := client.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestCoordinatorStore_Health(t *testing.T) {
	client := newCoordinatorClient(t)

	status, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Greater(t, status.Latency, time.Duration(0))
}

func TestCoordinatorStore_UnreachableSurfacesBackendError(t *testing.T) {
	client := NewCoordinatorStore(&CoordinatorConfig{
		BaseURL:        "http://127.0.0.1:1", // nothing listens here
		RequestTimeout: 200 * time.Millisecond,
	}, nil)

	_, err := client.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, tcerrors.IsCode(err, tcerrors.ErrCodeBackendUnavailable))
}
