// Package registry loads, validates and serves the set of monitor
// configurations. Loads are atomic: a single invalid entry fails the whole
// load and the previous snapshot stays in effect.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	senterrors "github.com/incidentwatch/sentinel/internal/errors"
	"github.com/incidentwatch/sentinel/internal/models"
)

// monitorsFile is the top-level shape of the configuration document.
type monitorsFile struct {
	Monitors []models.Monitor `json:"monitors"`
}

// snapshot is an immutable view of one successful load.
type snapshot struct {
	byID  map[string]*models.Monitor
	order []string
}

// Registry serves monitor configurations to the scheduler and the
// administrative surface. One writer (the loader) swaps snapshots; readers
// never observe a partial load.
type Registry struct {
	mu       sync.RWMutex
	path     string
	current  *snapshot
	validate *validator.Validate
}

// New creates a registry reading from the given JSON file path.
func New(path string) *Registry {
	return &Registry{
		path:     path,
		current:  &snapshot{byID: map[string]*models.Monitor{}},
		validate: validator.New(),
	}
}

// Load parses and validates the monitors file, replacing the active set on
// success. On any validation error nothing is applied.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return senterrors.Configuration("registry.load", err)
	}

	var doc monitorsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return senterrors.Configuration("registry.load", fmt.Errorf("parse monitors file: %w", err))
	}

	next := &snapshot{byID: make(map[string]*models.Monitor, len(doc.Monitors))}
	for i := range doc.Monitors {
		monitor := doc.Monitors[i]
		if err := r.validateMonitor(&monitor); err != nil {
			return senterrors.Configuration("registry.load",
				fmt.Errorf("monitor %q (index %d): %w", monitor.ID, i, err))
		}
		if _, dup := next.byID[monitor.ID]; dup {
			return senterrors.Configuration("registry.load",
				fmt.Errorf("monitor %q: duplicate id", monitor.ID))
		}
		next.byID[monitor.ID] = &monitor
		next.order = append(next.order, monitor.ID)
	}

	r.mu.Lock()
	r.current = next
	r.mu.Unlock()

	log.Info().Int("count", len(next.order)).Msg("monitors reloaded")
	return nil
}

// Reload re-reads the file with the same atomic contract as Load.
func (r *Registry) Reload() error {
	return r.Load()
}

func (r *Registry) validateMonitor(m *models.Monitor) error {
	if err := r.validate.Struct(m); err != nil {
		return err
	}
	if m.Threshold.Critical < m.Threshold.Warning {
		return fmt.Errorf("threshold critical (%v) must be >= warning (%v)",
			m.Threshold.Critical, m.Threshold.Warning)
	}
	if _, err := models.ParseTimeWindow(m.TimeWindow); err != nil {
		return err
	}
	return nil
}

// Get returns the monitor with the given id.
func (r *Registry) Get(id string) (*models.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.current.byID[id]
	return m, ok
}

// List returns all monitors in file order, including disabled ones.
func (r *Registry) List() []*models.Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Monitor, 0, len(r.current.order))
	for _, id := range r.current.order {
		out = append(out, r.current.byID[id])
	}
	return out
}

// ListEnabled returns only the monitors eligible for scheduling.
func (r *Registry) ListEnabled() []*models.Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Monitor, 0, len(r.current.order))
	for _, id := range r.current.order {
		if m := r.current.byID[id]; m.Enabled {
			out = append(out, m)
		}
	}
	return out
}
