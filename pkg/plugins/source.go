package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// Source supplies raw plugin manifests. Discover returns everything the source
// currently knows; Read re-reads one plugin, bypassing any cache, and returns
// an error wrapping ErrPluginNotFound when the id is unknown.
type Source interface {
	Discover(ctx context.Context) ([]*Manifest, error)
	Read(ctx context.Context, id string) (*Manifest, error)
}

// StaticSource serves manifests held in memory.
type StaticSource struct {
	mu        sync.RWMutex
	manifests []*Manifest
}

// NewStaticSource creates a source over the given manifests.
func NewStaticSource(manifests ...*Manifest) *StaticSource {
	return &StaticSource{manifests: manifests}
}

// Put adds or replaces the manifest with the same id.
func (s *StaticSource) Put(m *Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.manifests {
		if existing.ID == m.ID {
			s.manifests[i] = m
			return
		}
	}
	s.manifests = append(s.manifests, m)
}

// Remove drops the manifest with the given id.
func (s *StaticSource) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.manifests {
		if existing.ID == id {
			s.manifests = append(s.manifests[:i], s.manifests[i+1:]...)
			return
		}
	}
}

func (s *StaticSource) Discover(ctx context.Context) ([]*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Manifest, len(s.manifests))
	copy(out, s.manifests)
	return out, nil
}

func (s *StaticSource) Read(ctx context.Context, id string) (*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.manifests {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
}

// MultiSource concatenates several sources. Read asks each source in order.
type MultiSource []Source

func (m MultiSource) Discover(ctx context.Context) ([]*Manifest, error) {
	var all []*Manifest
	var errs []error
	for _, s := range m {
		found, err := s.Discover(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		all = append(all, found...)
	}
	return all, errors.Join(errs...)
}

func (m MultiSource) Read(ctx context.Context, id string) (*Manifest, error) {
	for _, s := range m {
		manifest, err := s.Read(ctx, id)
		if err == nil {
			return manifest, nil
		}
		if !errors.Is(err, ErrPluginNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
}

// DirSourceConfig configures a DirSource.
type DirSourceConfig struct {
	Dirs      []string
	CacheSize int
	CacheTTL  time.Duration
}

// DirSource discovers manifests in <dir>/<plugin>/plugin.yaml. Parsed
// manifests are cached by path, modification time and size.
type DirSource struct {
	dirs  []string
	cache *lru.LRU[string, *Manifest]
	log   *logrus.Logger

	mu    sync.RWMutex
	paths map[string]string // plugin id -> manifest path
}

// NewDirSource creates a directory-backed source
func NewDirSource(cfg DirSourceConfig, log *logrus.Logger) *DirSource {
	if log == nil {
		log = logrus.New()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}

	return &DirSource{
		dirs:  cfg.Dirs,
		cache: lru.NewLRU[string, *Manifest](cfg.CacheSize, nil, cfg.CacheTTL),
		log:   log,
		paths: make(map[string]string),
	}
}

// Dirs returns the scanned directories.
func (s *DirSource) Dirs() []string {
	return s.dirs
}

// Discover scans all directories. Manifests that cannot be parsed are
// returned with ReadErr set so the loader reports them.
func (s *DirSource) Discover(ctx context.Context) ([]*Manifest, error) {
	var manifests []*Manifest
	paths := make(map[string]string)

	for _, dir := range s.dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			s.log.Debugf("Plugin directory does not exist: %s", dir)
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			s.log.Warnf("Failed to read plugin directory %s: %v", dir, err)
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			pluginDir := filepath.Join(dir, entry.Name())
			path, err := FindManifest(pluginDir)
			if err != nil {
				s.log.Debugf("Skipping %s: %v", pluginDir, err)
				continue
			}
			m := s.readCached(path)
			if m.ID != "" && m.ReadErr == nil {
				paths[m.ID] = path
			}
			manifests = append(manifests, m)
		}
	}

	s.mu.Lock()
	s.paths = paths
	s.mu.Unlock()

	return manifests, nil
}

// Read re-reads the manifest for id from disk.
func (s *DirSource) Read(ctx context.Context, id string) (*Manifest, error) {
	if path, ok := s.PathForID(id); ok {
		m, err := LoadManifest(path)
		if err == nil && m.ID == id {
			s.cache.Add(cacheKey(path), m)
			return m, nil
		}
	}

	// The plugin may have moved or be new: rescan.
	manifests, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range manifests {
		if m.ID == id && m.ReadErr == nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
}

// PathForID returns the manifest path last seen for id.
func (s *DirSource) PathForID(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path, ok := s.paths[id]
	return path, ok
}

// IDForPath returns the plugin id whose manifest lives at path or inside the
// directory path.
func (s *DirSource) IDForPath(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, p := range s.paths {
		if p == path || filepath.Dir(p) == path {
			return id, true
		}
	}
	return "", false
}

func (s *DirSource) readCached(path string) *Manifest {
	key := cacheKey(path)
	if m, ok := s.cache.Get(key); ok {
		return m
	}

	m, err := LoadManifest(path)
	if err != nil {
		s.log.Warnf("Failed to load manifest %s: %v", path, err)
		// Not cached: a fix on disk changes the key anyway.
		return &Manifest{Source: path, ReadErr: err}
	}
	s.cache.Add(key, m)
	return m
}

func cacheKey(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path
	}
	return fmt.Sprintf("%s|%d|%d", path, info.ModTime().UnixNano(), info.Size())
}
