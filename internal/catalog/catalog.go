// Package catalog provides the plant registry and the published detection models.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
)

// DefaultStaleAfter is how long a fetched catalog is served before refetching.
const DefaultStaleAfter = 10 * time.Minute

// ErrUnavailable is returned when no catalog was ever fetched.
var ErrUnavailable = errors.New("catalog: unavailable")

// Catalog is an immutable view of the registry. The zero value and a nil
// pointer are empty catalogs.
type Catalog struct {
	models map[entities.ModelKind][]entities.DetectionModel
	plants map[string]entities.Plant
}

// Data is the wire shape of a catalog, shared by the cloud answer and local files.
type Data struct {
	ObjectDetection     []entities.DetectionModel `json:"yoloObjectDetection"`
	StageClassification []entities.DetectionModel `json:"yoloStageClassification"`
	DiseaseSegmentation []entities.DetectionModel `json:"maskRCNNSegmentation"`
	Plants              []entities.Plant          `json:"plants"`
}

// New builds a catalog. Plants are keyed by name; later duplicates win.
func New(d Data) *Catalog {
	c := &Catalog{
		models: map[entities.ModelKind][]entities.DetectionModel{
			entities.ObjectDetection:     append([]entities.DetectionModel(nil), d.ObjectDetection...),
			entities.StageClassification: append([]entities.DetectionModel(nil), d.StageClassification...),
			entities.DiseaseSegmentation: append([]entities.DetectionModel(nil), d.DiseaseSegmentation...),
		},
		plants: make(map[string]entities.Plant, len(d.Plants)),
	}
	for _, p := range d.Plants {
		if p.Name != "" {
			c.plants[p.Name] = p
		}
	}
	return c
}

// HasPlant reports whether name is a registered plant.
func (c *Catalog) HasPlant(name string) bool {
	_, ok := c.Plant(name)
	return ok
}

// Plant returns the registry entry of name.
func (c *Catalog) Plant(name string) (entities.Plant, bool) {
	if c == nil {
		return entities.Plant{}, false
	}
	p, ok := c.plants[name]
	return p, ok
}

// Plants returns the number of registered plants.
func (c *Catalog) Plants() int {
	if c == nil {
		return 0
	}
	return len(c.plants)
}

// Models returns the models of kind, newest first.
func (c *Catalog) Models(kind entities.ModelKind) []entities.DetectionModel {
	if c == nil {
		return nil
	}
	return c.models[kind]
}

// Source fetches a catalog. force asks the upstream to bypass its own caches.
type Source interface {
	Fetch(ctx context.Context, force bool) (*Catalog, error)
}

// FileSource reads a catalog from a JSON file holding a Data object.
type FileSource struct {
	Path string
}

// Fetch reads and parses the file.
func (f FileSource) Fetch(_ context.Context, _ bool) (*Catalog, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog file: %w", err)
	}
	var d Data
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", f.Path, err)
	}
	return New(d), nil
}

const cacheKey = "catalog"

// Cache serves a Source's catalog for a stale window. When a refresh fails the
// last good catalog is returned along with the error.
type Cache struct {
	src   Source
	log   *slog.Logger
	cache *gocache.Cache

	mu       sync.Mutex
	lastGood *Catalog
}

// NewCache wraps src. staleAfter <= 0 means DefaultStaleAfter.
func NewCache(src Source, staleAfter time.Duration, log *slog.Logger) *Cache {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		src:   src,
		log:   log.With("component", "catalog"),
		cache: gocache.New(staleAfter, 2*staleAfter),
	}
}

// Get returns the cached catalog, fetching it when stale.
func (c *Cache) Get(ctx context.Context) (*Catalog, error) {
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.(*Catalog), nil
	}
	return c.Refresh(ctx, false)
}

// Refresh fetches unconditionally.
func (c *Cache) Refresh(ctx context.Context, force bool) (*Catalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cat, err := c.src.Fetch(ctx, force)
	if err != nil {
		c.log.Warn("catalog refresh failed", "error", err)
		if c.lastGood != nil {
			return c.lastGood, err
		}
		return &Catalog{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	c.cache.SetDefault(cacheKey, cat)
	c.lastGood = cat
	c.log.Info("catalog refreshed", "plants", cat.Plants(),
		"objectDetection", len(cat.Models(entities.ObjectDetection)))
	return cat, nil
}

// Current returns the cached catalog without fetching, or an empty one.
func (c *Cache) Current() *Catalog {
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.(*Catalog)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastGood != nil {
		return c.lastGood
	}
	return &Catalog{}
}
