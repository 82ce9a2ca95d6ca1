// internal/storage/memory/memory.go
package memory

import (
	"cmp"
	"context"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/sfmovies/filmlocations/internal/storage"
	"github.com/sfmovies/filmlocations/internal/util"
	"github.com/sfmovies/filmlocations/pkg/core"
)

// LocationRecord groups a stored location with its click count
type LocationRecord struct {
	Item   storage.Item
	Clicks int64
	seq    int
}

// Backend keeps locations in process memory. It is used for tests and for
// small imports served from a single process.
type Backend struct {
	mu        sync.RWMutex
	locations map[string]*LocationRecord
	nextSeq   int
	rand      *rand.Rand
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{
		locations: make(map[string]*LocationRecord),
		rand:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// NewSeeded creates a memory backend with a deterministic Random order.
func NewSeeded(seed uint64) *Backend {
	b := New()
	b.rand = rand.New(rand.NewPCG(seed, seed))
	return b
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// Upsert stores items with unseen ids.
func (b *Backend) Upsert(_ context.Context, items []storage.Item) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inserted := 0
	for _, it := range items {
		if _, ok := b.locations[it.Record.ID]; ok {
			continue
		}
		b.locations[it.Record.ID] = &LocationRecord{Item: it, seq: b.nextSeq}
		b.nextSeq++
		inserted++
	}
	return inserted, nil
}

// Get returns the location with the given id.
func (b *Backend) Get(_ context.Context, id string) (core.LocationRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.locations[id]
	if !ok {
		return core.LocationRecord{}, storage.ErrNotFound
	}
	return l.Item.Record, nil
}

// Extra returns the source-only fields stored for id.
func (b *Backend) Extra(id string) map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if l, ok := b.locations[id]; ok {
		return l.Item.Extra
	}
	return nil
}

// Count returns the number of stored locations.
func (b *Backend) Count(context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.locations), nil
}

func matches(rec core.LocationRecord, terms []string) bool {
	for _, term := range terms {
		found := false
		for _, f := range storage.SearchFields {
			if util.ContainsFold(rec.Field(f), term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Search returns records matching every term.
func (b *Backend) Search(_ context.Context, terms []string, limit int) ([]core.LocationRecord, error) {
	if len(terms) == 0 || limit <= 0 {
		return []core.LocationRecord{}, nil
	}

	b.mu.RLock()
	out := make([]core.LocationRecord, 0)
	for _, l := range b.locations {
		if matches(l.Item.Record, terms) {
			out = append(out, l.Item.Record)
		}
	}
	b.mu.RUnlock()

	slices.SortFunc(out, func(x, y core.LocationRecord) int {
		return cmp.Or(cmp.Compare(x.Title, y.Title), cmp.Compare(x.ID, y.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MostPopular returns the most clicked locations.
func (b *Backend) MostPopular(_ context.Context, limit int) ([]core.LocationRecord, error) {
	if limit <= 0 {
		return []core.LocationRecord{}, nil
	}

	b.mu.RLock()
	all := make([]*LocationRecord, 0, len(b.locations))
	for _, l := range b.locations {
		all = append(all, l)
	}
	b.mu.RUnlock()

	slices.SortFunc(all, func(x, y *LocationRecord) int {
		return cmp.Or(cmp.Compare(y.Clicks, x.Clicks), cmp.Compare(x.Item.Record.ID, y.Item.Record.ID))
	})
	n := min(limit, len(all))
	out := make([]core.LocationRecord, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].Item.Record
	}
	return out, nil
}

// Random returns up to limit distinct locations in random order.
func (b *Backend) Random(_ context.Context, limit int) ([]core.LocationRecord, error) {
	if limit <= 0 {
		return []core.LocationRecord{}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	all := make([]*LocationRecord, 0, len(b.locations))
	for _, l := range b.locations {
		all = append(all, l)
	}
	// map order is not a stable base for a seeded shuffle
	slices.SortFunc(all, func(x, y *LocationRecord) int { return cmp.Compare(x.seq, y.seq) })
	b.rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

	n := min(limit, len(all))
	out := make([]core.LocationRecord, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].Item.Record
	}
	return out, nil
}

// RecordClick increments the click count of id.
func (b *Backend) RecordClick(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locations[id]
	if !ok {
		return storage.ErrNotFound
	}
	l.Clicks++
	return nil
}

// Clicks returns the click count of id.
func (b *Backend) Clicks(id string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if l, ok := b.locations[id]; ok {
		return l.Clicks
	}
	return 0
}
