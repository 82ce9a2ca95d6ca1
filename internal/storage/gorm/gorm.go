// Package gormstorage implements storage.Backend on GORM. It serves both the
// SQLite and the PostgreSQL backends; click history rows are queued and
// written in batches by a background goroutine.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sfmovies/filmlocations/internal/database"
	"github.com/sfmovies/filmlocations/internal/model"
	"github.com/sfmovies/filmlocations/internal/model/convert"
	"github.com/sfmovies/filmlocations/internal/queue"
	"github.com/sfmovies/filmlocations/internal/storage"
	"github.com/sfmovies/filmlocations/pkg/core"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultFlushInterval is how often queued click rows are written.
const DefaultFlushInterval = 2 * time.Second

const upsertBatchSize = 500

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        zerolog.Logger
	FlushInterval time.Duration
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps      Dependencies
	clicks    *queue.Queue[model.Click]
	stopChan  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:   deps,
		clicks: queue.New[model.Click](),
		now:    time.Now,
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the click writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database")
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.clickWriter()

	b.deps.Logger.Info().Str("dialect", b.deps.DB.Name()).Msg("Location storage ready")
	return nil
}

// Close stops the click writer and flushes queued clicks.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		if b.stopChan != nil {
			close(b.stopChan)
			<-b.done
		}
		b.Flush()
	})
	return nil
}

// Upsert inserts items whose id is not stored yet.
func (b *Backend) Upsert(ctx context.Context, items []storage.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	rows := make([]model.Location, len(items))
	for i, it := range items {
		rows[i] = convert.CoreToLocation(it.Record, it.Extra)
	}

	res := b.deps.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(&rows, upsertBatchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to insert locations: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Get returns the location with the given id.
func (b *Backend) Get(ctx context.Context, id string) (core.LocationRecord, error) {
	var row model.Location
	err := b.deps.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.LocationRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return core.LocationRecord{}, fmt.Errorf("failed to get location %s: %w", id, err)
	}
	return convert.LocationToCore(row), nil
}

// Count returns the number of stored locations.
func (b *Backend) Count(ctx context.Context) (int, error) {
	var n int64
	if err := b.deps.DB.WithContext(ctx).Model(&model.Location{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count locations: %w", err)
	}
	return int(n), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// termClause matches one lowercased term against every search column.
func termClause() string {
	parts := make([]string, len(model.SearchColumns))
	for i, col := range model.SearchColumns {
		parts[i] = "LOWER(" + col + `) LIKE ? ESCAPE '\'`
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// Search returns records matching every term.
func (b *Backend) Search(ctx context.Context, terms []string, limit int) ([]core.LocationRecord, error) {
	if len(terms) == 0 || limit <= 0 {
		return []core.LocationRecord{}, nil
	}

	q := b.deps.DB.WithContext(ctx).Model(&model.Location{})
	where := termClause()
	for _, term := range terms {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
		args := make([]any, len(model.SearchColumns))
		for i := range args {
			args[i] = pattern
		}
		q = q.Where(where, args...)
	}

	var rows []model.Location
	if err := q.Order("title ASC, id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search locations: %w", err)
	}
	return convert.LocationsToCore(rows), nil
}

// MostPopular returns the most clicked locations.
func (b *Backend) MostPopular(ctx context.Context, limit int) ([]core.LocationRecord, error) {
	return b.list(ctx, "clicks DESC, id ASC", limit)
}

// Random returns up to limit locations in random order.
func (b *Backend) Random(ctx context.Context, limit int) ([]core.LocationRecord, error) {
	return b.list(ctx, "RANDOM()", limit)
}

func (b *Backend) list(ctx context.Context, order string, limit int) ([]core.LocationRecord, error) {
	if limit <= 0 {
		return []core.LocationRecord{}, nil
	}
	var rows []model.Location
	if err := b.deps.DB.WithContext(ctx).Order(order).Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return convert.LocationsToCore(rows), nil
}

// RecordClick increments the click counter and queues a history row.
func (b *Backend) RecordClick(ctx context.Context, id string) error {
	res := b.deps.DB.WithContext(ctx).Model(&model.Location{}).
		Where("id = ?", id).
		UpdateColumn("clicks", gorm.Expr("clicks + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("failed to record click: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	b.clicks.Push(model.Click{LocationID: id, Time: b.now()})
	return nil
}

// PendingClicks returns the number of queued click rows.
func (b *Backend) PendingClicks() int {
	return b.clicks.Len()
}

// Flush writes queued click rows now.
func (b *Backend) Flush() {
	writeQueue(b.deps.DB, b.clicks, "clicks", b.deps.Logger)
}

// writeQueue writes all items from a queue to the database in a transaction.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log zerolog.Logger) {
	if q.Empty() {
		return
	}

	items := q.Drain()
	tx := db.Begin()
	if err := tx.CreateInBatches(&items, upsertBatchSize).Error; err != nil {
		log.Error().Err(err).Str("table", name).Msg("Error writing queued rows")
		tx.Rollback()
		q.Push(items...)
		return
	}
	if err := tx.Commit().Error; err != nil {
		log.Error().Err(err).Str("table", name).Msg("Error committing queued rows")
		q.Push(items...)
		return
	}
	log.Debug().Int("rows", len(items)).Str("table", name).Msg("Wrote queued rows")
}

func (b *Backend) clickWriter() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}
