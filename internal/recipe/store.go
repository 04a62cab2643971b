// Package recipe loads and serves the menu definitions.
package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tableon/barctl/pkg/models"
)

// simDuration replaces every positive duration when simulation is on.
const simDuration = 1.5

// Store holds the recipe map, read-only after load except for SaveAll.
type Store struct {
	path       string
	simulation bool

	mu      sync.RWMutex
	recipes map[int]models.Recipe
}

// NewStore creates a store bound to a recipe file. Load must be called
// before lookups.
func NewStore(path string, simulation bool) *Store {
	return &Store{
		path:       path,
		simulation: simulation,
		recipes:    make(map[int]models.Recipe),
	}
}

// Load reads the recipe file. Both persisted shapes are accepted: a JSON
// array of recipes, or a map of menu_code → recipe. Absent durations
// decode to 0 and simply skip their station during planning.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read recipes: %w", err)
	}

	var list []models.Recipe
	if err := json.Unmarshal(raw, &list); err != nil {
		var byCode map[string]models.Recipe
		if err2 := json.Unmarshal(raw, &byCode); err2 != nil {
			return fmt.Errorf("parse recipes: %w", err)
		}
		for code, r := range byCode {
			if r.MenuCode == 0 {
				if n, convErr := strconv.Atoi(code); convErr == nil {
					r.MenuCode = n
				}
			}
			list = append(list, r)
		}
	}

	recipes := make(map[int]models.Recipe, len(list))
	for _, r := range list {
		if s.simulation {
			overrideDurations(&r)
		}
		recipes[r.MenuCode] = r
	}

	s.mu.Lock()
	s.recipes = recipes
	s.mu.Unlock()

	log.Info().Int("count", len(recipes)).Bool("simulation", s.simulation).Msg("recipes loaded")
	return nil
}

// Get returns the recipe for a menu code.
func (s *Store) Get(menuCode int) (models.Recipe, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recipes[menuCode]
	return r, ok
}

// All returns every recipe ordered by menu code.
func (s *Store) All() []models.Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Recipe, 0, len(s.recipes))
	for _, r := range s.recipes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MenuCode < out[j].MenuCode })
	return out
}

// SaveAll replaces the recipe set and persists it as a JSON array. The
// write goes through a temp file and rename so the file is updated
// atomically.
func (s *Store) SaveAll(recipes []models.Recipe) error {
	byCode := make(map[int]models.Recipe, len(recipes))
	for _, r := range recipes {
		if s.simulation {
			overrideDurations(&r)
		}
		byCode[r.MenuCode] = r
	}

	sorted := make([]models.Recipe, 0, len(byCode))
	for _, r := range byCode {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MenuCode < sorted[j].MenuCode })

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal recipes: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".recipe-*.json")
	if err != nil {
		return fmt.Errorf("create temp recipe file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write recipes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp recipe file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace recipe file: %w", err)
	}

	s.mu.Lock()
	s.recipes = byCode
	s.mu.Unlock()

	log.Info().Int("count", len(byCode)).Msg("recipes saved")
	return nil
}

// overrideDurations clamps every positive duration to the simulation
// constant so a full drink runs in seconds on a bench.
func overrideDurations(r *models.Recipe) {
	for _, d := range []*float64{
		&r.IceSeconds, &r.WaterSeconds, &r.SparklingSecs, &r.HotWaterSecs, &r.CoffeeSeconds,
	} {
		if *d > 0 {
			*d = simDuration
		}
	}
	for i := range r.Syrups {
		if r.Syrups[i].Seconds > 0 {
			r.Syrups[i].Seconds = simDuration
		}
	}
}
