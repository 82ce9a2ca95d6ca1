// Package relay connects the map client engine to browser map pages over
// WebSocket. The engine dials /ws/map/client with the shared secret and
// pages dial /ws/map/page. Engine frames fan out to every page and page
// input frames go back to the engine.
package relay

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/sfmovies/filmlocations/pkg/streaming"
)

// Config holds the relay settings.
type Config struct {
	// Secret must match the secret query parameter of the engine. Empty
	// accepts any engine.
	Secret string
	// AllowedOrigins limits which browser origins may open a page. Empty
	// or "*" allows all.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Hub pairs at most one engine with any number of pages.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *peer
	pages  map[*peer]struct{}
	state  mapState
	closed bool
}

// New creates a Hub.
func New(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{cfg: cfg, logger: logger, pages: make(map[*peer]struct{})}
}

func (h *Hub) upgrader(checkOrigin func(*http.Request) bool) ws.Upgrader {
	return ws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      checkOrigin,
	}
}

func (h *Hub) pageOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// ServeClient accepts the engine connection. A new engine replaces the
// previous one.
func (h *Hub) ServeClient(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("secret")
	if h.cfg.Secret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(h.cfg.Secret)) != 1 {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}

	up := h.upgrader(func(*http.Request) bool { return true })
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Map client upgrade failed", "error", err)
		return
	}
	p := newPeer(conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	if h.client != nil {
		h.logger.Info("Map client replaced")
		h.client.close()
	}
	h.client = p
	h.mu.Unlock()

	h.logger.Info("Map client connected", "remote", r.RemoteAddr)
	go p.writePump()
	go p.readPump(h.fromClient, func() { h.drop(p) })
}

// ServePage accepts a map page and replays the current map to it.
func (h *Hub) ServePage(w http.ResponseWriter, r *http.Request) {
	up := h.upgrader(h.pageOrigin)
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Map page upgrade failed", "error", err)
		return
	}
	p := newPeer(conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	for _, frame := range h.state.snapshot() {
		if !p.enqueue(frame) {
			break
		}
	}
	h.pages[p] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Map page connected", "remote", r.RemoteAddr)
	go p.writePump()
	go p.readPump(h.fromPage, func() { h.drop(p) })
}

func (h *Hub) fromClient(frame []byte) {
	var env streaming.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" {
		h.logger.Debug("Dropping malformed client frame", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.apply(env, frame)
	for page := range h.pages {
		if !page.enqueue(frame) {
			h.logger.Warn("Dropping slow map page")
			delete(h.pages, page)
			page.close()
		}
	}
}

func (h *Hub) fromPage(frame []byte) {
	var env streaming.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		h.logger.Debug("Dropping malformed page frame", "error", err)
		return
	}
	switch env.Type {
	case streaming.TypeMarkerClick, streaming.TypeQuery, streaming.TypeSelect:
	default:
		h.logger.Debug("Dropping page frame", "type", env.Type)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == nil {
		return
	}
	if !h.client.enqueue(frame) {
		h.logger.Warn("Map client queue full, dropping page input", "type", env.Type)
	}
}

func (h *Hub) drop(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == p {
		h.client = nil
		h.logger.Info("Map client disconnected")
	}
	delete(h.pages, p)
	p.close()
}

// Pages returns the number of connected pages.
func (h *Hub) Pages() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pages)
}

// ClientConnected reports whether an engine is attached.
func (h *Hub) ClientConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client != nil
}

// Close disconnects every peer and refuses new ones. Hijacked connections
// are not closed by http.Server.Shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.client != nil {
		h.client.close()
		h.client = nil
	}
	for page := range h.pages {
		page.close()
		delete(h.pages, page)
	}
}
