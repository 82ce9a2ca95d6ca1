// Package storagetest holds the behaviour tests every storage.Backend must
// pass.
package storagetest

import (
	"context"
	"testing"

	"github.com/sfmovies/filmlocations/internal/storage"
	"github.com/sfmovies/filmlocations/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixture is a small set of San Francisco film locations.
var Fixture = []core.LocationRecord{
	{
		ID: "dp1", Title: "The Dead Pool", ReleaseYear: "1988", Director: "Buddy Van Horn",
		ProductionCompany: "The Malpaso Company", Distributor: "Warner Bros. Pictures",
		Actors: [core.ActorSlots]string{"Clint Eastwood", "Patricia Clarkson", "Liam Neeson"},
		LocationText: "Embarcadero Center", Coordinate: core.Coordinate{Lat: 37.7952, Lng: -122.3985},
	},
	{
		ID: "dp2", Title: "The Dead Pool", ReleaseYear: "1988", Director: "Buddy Van Horn",
		ProductionCompany: "The Malpaso Company", Distributor: "Warner Bros. Pictures",
		Actors: [core.ActorSlots]string{"Clint Eastwood", "Patricia Clarkson", "Liam Neeson"},
		LocationText: "Chinatown", Coordinate: core.Coordinate{Lat: 37.7941, Lng: -122.4078},
	},
	{
		ID: "vt1", Title: "Vertigo", ReleaseYear: "1958", Director: "Alfred Hitchcock",
		ProductionCompany: "Alfred J. Hitchcock Productions", Distributor: "Paramount Pictures",
		Actors: [core.ActorSlots]string{"James Stewart", "Kim Novak", "Barbara Bel Geddes"},
		LocationText: "Fort Point", Coordinate: core.Coordinate{Lat: 37.8107, Lng: -122.4770},
	},
	{
		ID: "bu1", Title: "Bullitt", ReleaseYear: "1968", Director: "Peter Yates",
		ProductionCompany: "Solar Productions", Distributor: "Warner Brothers",
		Actors:       [core.ActorSlots]string{"Steve McQueen", "Jacqueline Bisset", ""},
		LocationText: "Taylor Street", Coordinate: core.Coordinate{Lat: 37.7989, Lng: -122.4149},
	},
}

// Factory creates a fresh, initialized backend for one subtest.
type Factory func(t *testing.T) storage.Backend

func seeded(t *testing.T, newBackend Factory) storage.Backend {
	t.Helper()
	b := newBackend(t)
	n, err := b.Upsert(context.Background(), storage.Items(Fixture))
	require.NoError(t, err)
	require.Equal(t, len(Fixture), n)
	return b
}

func ids(records []core.LocationRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// Run runs the backend behaviour tests.
func Run(t *testing.T, newBackend Factory) {
	ctx := context.Background()

	t.Run("UpsertSkipsExisting", func(t *testing.T) {
		b := seeded(t, newBackend)

		changed := Fixture[0]
		changed.Title = "Changed"
		extra := core.LocationRecord{ID: "new1", Title: "Mrs. Doubtfire", Coordinate: core.Coordinate{Lat: 37.79, Lng: -122.43}}

		n, err := b.Upsert(ctx, storage.Items([]core.LocationRecord{changed, extra}))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := b.Get(ctx, Fixture[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "The Dead Pool", got.Title, "existing rows are not overwritten")

		count, err := b.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(Fixture)+1, count)
	})

	t.Run("GetRoundTrip", func(t *testing.T) {
		b := seeded(t, newBackend)
		for _, want := range Fixture {
			got, err := b.Get(ctx, want.ID)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		b := seeded(t, newBackend)
		_, err := b.Get(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Search", func(t *testing.T) {
		b := seeded(t, newBackend)

		tests := []struct {
			name  string
			terms []string
			limit int
			want  []string
		}{
			{"no terms", nil, 50, []string{}},
			{"title substring", []string{"dead"}, 50, []string{"dp1", "dp2"}},
			{"actor", []string{"mcqueen"}, 50, []string{"bu1"}},
			{"year", []string{"1958"}, 50, []string{"vt1"}},
			{"all terms must match", []string{"eastwood", "1958"}, 50, []string{}},
			{"terms across fields", []string{"hitchcock", "novak"}, 50, []string{"vt1"}},
			{"distributor", []string{"warner"}, 50, []string{"bu1", "dp1", "dp2"}},
			{"limit", []string{"warner"}, 1, []string{"bu1"}},
			{"location text is not searched", []string{"chinatown"}, 50, []string{}},
			{"like wildcards are literal", []string{"%"}, 50, []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := b.Search(ctx, tt.terms, tt.limit)
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(got))
			})
		}
	})

	t.Run("MostPopular", func(t *testing.T) {
		b := seeded(t, newBackend)

		got, err := b.MostPopular(ctx, 50)
		require.NoError(t, err)
		assert.Equal(t, []string{"bu1", "dp1", "dp2", "vt1"}, ids(got), "ties are ordered by id")

		require.NoError(t, b.RecordClick(ctx, "vt1"))
		require.NoError(t, b.RecordClick(ctx, "vt1"))
		require.NoError(t, b.RecordClick(ctx, "dp2"))

		got, err = b.MostPopular(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"vt1", "dp2", "bu1"}, ids(got))
	})

	t.Run("RecordClickUnknown", func(t *testing.T) {
		b := seeded(t, newBackend)
		assert.ErrorIs(t, b.RecordClick(ctx, "missing"), storage.ErrNotFound)
	})

	t.Run("Random", func(t *testing.T) {
		b := seeded(t, newBackend)

		got, err := b.Random(ctx, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.NotEqual(t, got[0].ID, got[1].ID)
		for _, r := range got {
			assert.Contains(t, []string{"dp1", "dp2", "vt1", "bu1"}, r.ID)
		}

		all, err := b.Random(ctx, 50)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"dp1", "dp2", "vt1", "bu1"}, ids(all))

		none, err := b.Random(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
