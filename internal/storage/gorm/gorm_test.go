package gormstorage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sfmovies/filmlocations/internal/database"
	"github.com/sfmovies/filmlocations/internal/geo"
	"github.com/sfmovies/filmlocations/internal/model"
	"github.com/sfmovies/filmlocations/internal/storage"
	"github.com/sfmovies/filmlocations/internal/storage/storagetest"
	"github.com/sfmovies/filmlocations/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.GetSqliteDB(filepath.Join(t.TempDir(), "locations.db"))
	require.NoError(t, err)

	b := New(Dependencies{DB: db, Logger: zerolog.Nop(), FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	t.Cleanup(func() {
		_ = b.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return b
}

func TestBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return newTestBackend(t)
	})
}

func TestNew_DefaultFlushInterval(t *testing.T) {
	b := New(Dependencies{})
	assert.Equal(t, DefaultFlushInterval, b.deps.FlushInterval)
}

func TestInit_NoDB(t *testing.T) {
	assert.Error(t, New(Dependencies{}).Init())
}

func TestUpsert_StoresExtraAndPosition(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	n, err := b.Upsert(ctx, []storage.Item{{
		Record: storagetest.Fixture[2],
		Extra:  map[string]string{"fun_facts": "Fort Point sits under the Golden Gate Bridge"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var row model.Location
	require.NoError(t, b.DB().First(&row, "id = ?", "vt1").Error)
	var extra map[string]string
	require.NoError(t, json.Unmarshal(row.Extra, &extra))
	assert.Equal(t, "Fort Point sits under the Golden Gate Bridge", extra["fun_facts"])

	c, err := geo.CoordinateFromPoint(row.Position)
	require.NoError(t, err)
	assert.InDelta(t, -122.4770, c.Lng, 1e-9)
	assert.InDelta(t, 37.8107, c.Lat, 1e-9)
}

func TestUpsert_DuplicateIDsInBatch(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	rec := core.LocationRecord{ID: "x1", Title: "Harold and Maude"}
	n, err := b.Upsert(ctx, storage.Items([]core.LocationRecord{rec, rec}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordClick_QueuesHistory(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	_, err := b.Upsert(ctx, storage.Items(storagetest.Fixture))
	require.NoError(t, err)

	require.NoError(t, b.RecordClick(ctx, "bu1"))
	require.NoError(t, b.RecordClick(ctx, "bu1"))
	assert.Error(t, b.RecordClick(ctx, "missing"))
	assert.Equal(t, 2, b.PendingClicks())

	b.Flush()
	assert.Equal(t, 0, b.PendingClicks())

	var n int64
	require.NoError(t, b.DB().Model(&model.Click{}).Where("location_id = ?", "bu1").Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestClose_FlushesPendingClicks(t *testing.T) {
	ctx := context.Background()
	db, err := database.GetSqliteDB(filepath.Join(t.TempDir(), "locations.db"))
	require.NoError(t, err)

	b := New(Dependencies{DB: db, Logger: zerolog.Nop(), FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	_, err = b.Upsert(ctx, storage.Items(storagetest.Fixture))
	require.NoError(t, err)
	require.NoError(t, b.RecordClick(ctx, "dp1"))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")

	var n int64
	require.NoError(t, db.Model(&model.Click{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestTermClause(t *testing.T) {
	c := termClause()
	assert.Contains(t, c, "LOWER(title) LIKE ?")
	assert.Contains(t, c, "LOWER(actor3) LIKE ?")
	assert.NotContains(t, c, "locations")
}
