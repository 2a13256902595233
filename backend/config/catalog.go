package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/upb/llm-router/backend/models"
	"go.uber.org/zap"
)

// Catalog is the routing configuration: the clients allowed to call the
// router and the strategies they route through.
type Catalog struct {
	Clients    []*models.Client   `toml:"clients"`
	Strategies []*models.Strategy `toml:"strategies"`
}

// Validate checks the catalog for configuration errors: duplicate
// identifiers, dangling strategy references and invalid strategies.
func (c *Catalog) Validate() error {
	strategies := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if err := s.Validate(); err != nil {
			return err
		}
		if strategies[s.ID] {
			return fmt.Errorf("duplicate strategy id %q", s.ID)
		}
		strategies[s.ID] = true
	}

	clients := make(map[string]bool, len(c.Clients))
	for _, cl := range c.Clients {
		if cl.ID == "" {
			return fmt.Errorf("client %q has no id", cl.Name)
		}
		if clients[cl.ID] {
			return fmt.Errorf("duplicate client id %q", cl.ID)
		}
		clients[cl.ID] = true
		if !strategies[cl.StrategyID] {
			return fmt.Errorf("client %q references unknown strategy %q", cl.Name, cl.StrategyID)
		}
	}
	return nil
}

// Store holds the active catalog and serves lookups to the routing engine.
// Reload swaps the whole catalog atomically; readers never see a partially
// applied file.
type Store struct {
	mu         sync.RWMutex
	path       string
	clients    map[string]*models.Client
	strategies map[string]*models.Strategy
	logger     *zap.Logger
}

// NewStore loads the catalog file at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:       path,
		clients:    make(map[string]*models.Client),
		strategies: make(map[string]*models.Strategy),
		logger:     logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadCatalog parses and validates a catalog file without installing it.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var catalog Catalog
	if err := toml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &catalog, nil
}

// Reload re-reads the catalog file and swaps it in. A file that fails to
// parse or validate leaves the previous catalog in place.
func (s *Store) Reload() error {
	catalog, err := LoadCatalog(s.path)
	if err != nil {
		return err
	}

	clients := make(map[string]*models.Client, len(catalog.Clients))
	for _, c := range catalog.Clients {
		clients[c.ID] = c
	}
	strategies := make(map[string]*models.Strategy, len(catalog.Strategies))
	for _, st := range catalog.Strategies {
		strategies[st.ID] = st
	}

	s.mu.Lock()
	s.clients = clients
	s.strategies = strategies
	s.mu.Unlock()

	s.logger.Info("loaded routing catalog",
		zap.String("path", s.path),
		zap.Int("clients", len(clients)),
		zap.Int("strategies", len(strategies)))
	return nil
}

// Client returns the client definition for an id.
func (s *Store) Client(id string) (*models.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

// Strategy returns the strategy definition for an id.
func (s *Store) Strategy(id string) (*models.Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[id]
	return st, ok
}

// Strategies returns all loaded strategies.
func (s *Store) Strategies() []*models.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Strategy, 0, len(s.strategies))
	for _, st := range s.strategies {
		out = append(out, st)
	}
	return out
}

// reloadDebounce coalesces the burst of filesystem events editors produce
// for a single save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the catalog whenever the file changes, until ctx is
// cancelled. Watching the directory rather than the file survives the
// rename-over-save pattern most editors and config pushers use.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	s.logger.Info("watching routing catalog", zap.String("path", s.path))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := s.Reload(); err != nil {
				s.logger.Error("catalog reload failed, keeping previous catalog", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("catalog watcher error", zap.Error(err))
		case <-ctx.Done():
			return nil
		}
	}
}
