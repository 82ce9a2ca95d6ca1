// Package monitor periodically snapshots server status into a status file.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// DefaultInterval is the snapshot period when none is configured.
const DefaultInterval = 10 * time.Second

// Counter reports how many locations are stored.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Store Counter
	// PendingClicks and CacheEntries are optional gauges.
	PendingClicks func() int
	CacheEntries  func() int
	// StatusPath is rewritten on every snapshot; empty disables the file.
	StatusPath string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Status is one snapshot.
type Status struct {
	Time          time.Time `json:"time"`
	Uptime        string    `json:"uptime"`
	Locations     int       `json:"locations"`
	StoreError    string    `json:"storeError,omitempty"`
	PendingClicks int       `json:"pendingClicks"`
	CacheEntries  int       `json:"cacheEntries"`
	Goroutines    int       `json:"goroutines"`
	HeapAllocMB   float64   `json:"heapAllocMb"`
}

// Service manages status monitoring
type Service struct {
	deps    Dependencies
	started time.Time

	mu        sync.RWMutex
	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
	last      Status
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps, started: time.Now()}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Last returns the most recent snapshot.
func (s *Service) Last() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Snapshot collects the current status.
func (s *Service) Snapshot(ctx context.Context) Status {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := Status{
		Time:        time.Now().UTC(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / (1 << 20),
	}
	if s.deps.Store != nil {
		n, err := s.deps.Store.Count(ctx)
		if err != nil {
			st.StoreError = err.Error()
		}
		st.Locations = n
	}
	if s.deps.PendingClicks != nil {
		st.PendingClicks = s.deps.PendingClicks()
	}
	if s.deps.CacheEntries != nil {
		st.CacheEntries = s.deps.CacheEntries()
	}

	s.mu.Lock()
	s.last = st
	s.mu.Unlock()
	return st
}

// Start starts the status monitor goroutine
func (s *Service) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval, "path", s.deps.StatusPath)

		var statusFile *os.File
		if s.deps.StatusPath != "" {
			f, err := os.Create(s.deps.StatusPath)
			if err != nil {
				s.deps.Logger.Error("Error creating status file", "error", err)
			} else {
				statusFile = f
				defer statusFile.Close()
			}
		}

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.deps.Interval)
				st := s.Snapshot(ctx)
				cancel()

				if statusFile != nil {
					if err := writeStatus(statusFile, st); err != nil {
						s.deps.Logger.Error("Error writing status file", "error", err)
					}
				}
				s.deps.Logger.Debug("Status",
					"locations", st.Locations,
					"pendingClicks", st.PendingClicks,
					"cacheEntries", st.CacheEntries,
					"goroutines", st.Goroutines,
				)
			}
		}
	}()
}

func writeStatus(f *os.File, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
