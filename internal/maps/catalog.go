// Package maps holds the map descriptors sessions are built from. Only the
// gameplay-relevant data (gravity, floor, bounds, spawn points) is loaded;
// scene geometry stays with the client.
package maps

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/scythe504/horde-backend/internal"
)

const DefaultGravity = -9.81

type Metadata struct {
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	Version     string   `json:"version,omitempty"`
	MaxPlayers  int      `json:"maxPlayers,omitempty"`
	GameModes   []string `json:"gameMode,omitempty"`
}

type Map struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Gravity     *float64              `json:"gravity,omitempty"`
	FloorY      float64               `json:"floorY"`
	Bounds      internal.Bounds       `json:"bounds"`
	SpawnPoints []internal.SpawnPoint `json:"spawnPoints"`
	Metadata    *Metadata             `json:"metadata,omitempty"`
}

func (m *Map) GravityY() float64 {
	if m.Gravity == nil {
		return DefaultGravity
	}
	return *m.Gravity
}

func (m *Map) SpawnPointsOf(kind internal.SpawnKind) []internal.SpawnPoint {
	out := make([]internal.SpawnPoint, 0, len(m.SpawnPoints))
	for _, sp := range m.SpawnPoints {
		if sp.Kind == kind {
			out = append(out, sp)
		}
	}
	return out
}

func (m *Map) validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("map id is required")
	}
	if g := m.GravityY(); g > 0 {
		return fmt.Errorf("map %s: gravity must point down, got %.2f", m.ID, g)
	}
	b := m.Bounds
	if !b.IsZero() && (b.MinX >= b.MaxX || b.MinZ >= b.MaxZ) {
		return fmt.Errorf("map %s: invalid bounds %+v", m.ID, b)
	}
	seen := make(map[string]bool, len(m.SpawnPoints))
	for _, sp := range m.SpawnPoints {
		switch sp.Kind {
		case internal.SpawnPlayer, internal.SpawnZombie, internal.SpawnItem:
		default:
			return fmt.Errorf("map %s: spawn point %s has unknown type %q", m.ID, sp.ID, sp.Kind)
		}
		if seen[sp.ID] {
			return fmt.Errorf("map %s: duplicate spawn point id %s", m.ID, sp.ID)
		}
		seen[sp.ID] = true
	}
	return nil
}

// DefaultMap is always available so a fresh install can host games.
func DefaultMap() *Map {
	return &Map{
		ID:          internal.DefaultMapID,
		Name:        "Default Map",
		Description: "Flat training ground",
		Bounds:      internal.Bounds{MinX: -50, MaxX: 50, MinZ: -50, MaxZ: 50},
		SpawnPoints: []internal.SpawnPoint{
			{ID: "player-1", Kind: internal.SpawnPlayer, Position: internal.Vec3{X: -2, Y: 1, Z: 0}},
			{ID: "player-2", Kind: internal.SpawnPlayer, Position: internal.Vec3{X: 2, Y: 1, Z: 0}},
			{ID: "player-3", Kind: internal.SpawnPlayer, Position: internal.Vec3{X: 0, Y: 1, Z: -2}},
			{ID: "player-4", Kind: internal.SpawnPlayer, Position: internal.Vec3{X: 0, Y: 1, Z: 2}},
			{ID: "spawner-north", Kind: internal.SpawnZombie, Position: internal.Vec3{X: 0, Y: 0, Z: -40}},
			{ID: "spawner-south", Kind: internal.SpawnZombie, Position: internal.Vec3{X: 0, Y: 0, Z: 40}},
			{ID: "crate-1", Kind: internal.SpawnItem, Position: internal.Vec3{X: 10, Y: 0, Z: 10}},
		},
		Metadata: &Metadata{MaxPlayers: internal.MaxPlayersLimit, GameModes: []string{string(internal.ModeSurvival)}},
	}
}

type Catalog struct {
	mu   sync.RWMutex
	maps map[string]*Map
}

func NewCatalog(extra ...*Map) *Catalog {
	c := &Catalog{maps: make(map[string]*Map)}
	c.maps[internal.DefaultMapID] = DefaultMap()
	for _, m := range extra {
		c.maps[m.ID] = m
	}
	return c
}

// LoadDir reads every *.json descriptor in dir. A missing directory is not an
// error; a broken descriptor is skipped and logged.
func LoadDir(dir string) (*Catalog, error) {
	c := NewCatalog()
	if dir == "" {
		return c, nil
	}
	entries, err := os.ReadDir(filepath.Clean(dir))
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[maps.LoadDir] %s not found, using built-in maps only", dir)
			return c, nil
		}
		return c, fmt.Errorf("read maps dir %q: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		m, err := loadFile(path)
		if err != nil {
			log.Printf("[maps.LoadDir] skipping %s: %v", path, err)
			continue
		}
		c.maps[m.ID] = m
		log.Printf("[maps.LoadDir] loaded map %s (%s) with %d spawn points", m.ID, m.Name, len(m.SpawnPoints))
	}
	return c, nil
}

func loadFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map %q: %w", path, err)
	}
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse map %q: %w", path, err)
	}
	if m.ID == "" {
		m.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Catalog) Get(id string) (*Map, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.maps[id]
	if !ok {
		return nil, internal.NewNotFoundError("map %s not found", id)
	}
	return m, nil
}

func (c *Catalog) List() []*Map {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Map, 0, len(c.maps))
	for _, m := range c.maps {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Map) int { return strings.Compare(a.ID, b.ID) })
	return out
}
