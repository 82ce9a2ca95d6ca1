// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/sfmovies/filmlocations/pkg/core"
)

// ErrNotFound is returned when a location id is unknown.
var ErrNotFound = errors.New("location not found")

// Item is a location as stored, with source fields outside the wire shape.
type Item struct {
	Record core.LocationRecord
	Extra  map[string]string
}

// Items wraps records without extra fields.
func Items(records []core.LocationRecord) []Item {
	out := make([]Item, len(records))
	for i, r := range records {
		out[i] = Item{Record: r}
	}
	return out
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Upsert inserts items whose id is not stored yet and returns how many
	// were inserted. Existing ids are left untouched.
	Upsert(ctx context.Context, items []Item) (int, error)

	Get(ctx context.Context, id string) (core.LocationRecord, error)
	Count(ctx context.Context) (int, error)

	// Search returns records where every term is a case-insensitive
	// substring of at least one searchable field, ordered by title then id.
	Search(ctx context.Context, terms []string, limit int) ([]core.LocationRecord, error)
	// MostPopular orders by click count descending, then id.
	MostPopular(ctx context.Context, limit int) ([]core.LocationRecord, error)
	Random(ctx context.Context, limit int) ([]core.LocationRecord, error)

	// RecordClick counts one popup open. Unknown ids yield ErrNotFound.
	RecordClick(ctx context.Context, id string) error
}

// SearchFields are the record fields matched by Search.
var SearchFields = []string{
	"release_year",
	"title",
	"actor_1",
	"actor_2",
	"actor_3",
	"director",
	"production_company",
	"distributor",
}
