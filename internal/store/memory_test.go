package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-alert-service/internal/store"
	"github.com/couchcryptid/hazard-alert-service/internal/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return store.NewMemory() })
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	e := storetest.Event("quake-a", time.Hour)
	_, err := m.UpsertEvent(ctx, e)
	require.NoError(t, err)

	e.SourceProvenance[0] = "mutated"
	*e.Location.DepthKm = 999

	got, err := m.GetEvent(ctx, "quake-a")
	require.NoError(t, err)
	assert.Equal(t, "phivolcs", got.SourceProvenance[0])
	assert.InDelta(t, 10.0, *got.Location.DepthKm, 1e-9)
}
