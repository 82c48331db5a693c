// Package cache implements the hash-keyed dependency environment cache
// shared across sandboxes: a content hash of a service's sorted
// dependency list keys a reusable on-disk environment, so two services
// declaring the same dependencies never materialize two copies.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/pactown/pkg/log"
	"github.com/cuemby/pactown/pkg/metrics"
	"github.com/cuemby/pactown/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketEnvs = []byte("cached_envs")

const (
	defaultMaxEntries  = 20
	defaultMaxAgeHours = 24
)

// Populator materializes a fresh environment on disk for a dependency
// list, e.g. by installing packages. The cache only owns the hashing,
// indexing, and eviction bookkeeping around whatever a Populator does.
type Populator func(envPath string, deps []string) error

// Cache is the hash-keyed, ref-counted dependency environment cache.
type Cache struct {
	mu           sync.Mutex
	root         string // <sandbox_root>/.cache/envs
	db           *bolt.DB
	populate     Populator
	maxEntries   int
	maxAge       time.Duration
}

// record is the bbolt-persisted shape of one CachedEnv.
type record struct {
	Hash      string    `json:"hash"`
	DepList   []string  `json:"dep_list"`
	CreatedAt time.Time `json:"created_at"`
	RefCount  int       `json:"ref_count"`
}

// New opens (creating if needed) the cache's bbolt index under
// <sandboxRoot>/.cache. populate is called on a miss to fill the new
// env directory; nil uses a no-op populator (useful for tests and for
// artifacts with no declared deps).
func New(sandboxRoot string, populate Populator) (*Cache, error) {
	root := filepath.Join(sandboxRoot, ".cache", "envs")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	dbPath := filepath.Join(sandboxRoot, ".cache", "index.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEnvs)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	if populate == nil {
		populate = func(string, []string) error { return nil }
	}

	return &Cache{
		root:       root,
		db:         db,
		populate:   populate,
		maxEntries: defaultMaxEntries,
		maxAge:     defaultMaxAgeHours * time.Hour,
	}, nil
}

// Close releases the underlying bbolt handle.
func (c *Cache) Close() error { return c.db.Close() }

// Key returns the content hash of deps: the SHA-256 of the sorted,
// newline-joined dependency list. Two dependency lists that are
// permutations of each other always produce the same key.
func Key(deps []string) string {
	sorted := append([]string(nil), deps...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// GetOrCreate returns the CachedEnv for deps, creating and populating it
// on a miss, and bumping its ref_count either way.
func (c *Cache) GetOrCreate(deps []string) (*types.CachedEnv, error) {
	hash := Key(deps)
	short := hash[:12]

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.get(hash)
	if err != nil {
		return nil, err
	}

	if rec != nil {
		metrics.CacheHitsTotal.Inc()
		rec.RefCount++
		if err := c.put(rec); err != nil {
			return nil, err
		}
		return toCachedEnv(rec, c.envPath(short)), nil
	}

	metrics.CacheMissesTotal.Inc()
	envPath := c.envPath(short)
	if err := os.MkdirAll(envPath, 0o755); err != nil {
		return nil, fmt.Errorf("create env dir: %w", err)
	}
	if err := c.populate(envPath, deps); err != nil {
		return nil, fmt.Errorf("populate env: %w", err)
	}
	if err := writeMarker(envPath, deps); err != nil {
		return nil, err
	}

	rec = &record{Hash: hash, DepList: append([]string(nil), deps...), CreatedAt: time.Now(), RefCount: 1}
	if err := c.put(rec); err != nil {
		return nil, err
	}

	log.WithComponent("cache").Info().Str("hash", short).Int("deps", len(deps)).Msg("dependency environment created")
	metrics.CachedEnvironmentsTotal.Inc()
	c.evictLocked()
	return toCachedEnv(rec, envPath), nil
}

// Release decrements the ref_count for hash's entry. It never goes
// negative; releasing an already-zero or unknown hash is a no-op.
func (c *Cache) Release(hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.get(hash)
	if err != nil || rec == nil {
		return err
	}
	if rec.RefCount > 0 {
		rec.RefCount--
	}
	return c.put(rec)
}

// evictLocked removes ref_count==0 entries once the cache exceeds
// maxEntries or an entry exceeds maxAge, oldest-created first. Entries
// still in use are never evicted, even past the nominal limit.
func (c *Cache) evictLocked() {
	var all []*record
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEnvs)
		return b.ForEach(func(_, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			all = append(all, &r)
			return nil
		})
	})

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	over := len(all) - c.maxEntries
	for _, rec := range all {
		expired := time.Since(rec.CreatedAt) > c.maxAge
		shouldEvict := over > 0 || expired
		if !shouldEvict || rec.RefCount != 0 {
			continue
		}
		_ = os.RemoveAll(c.envPath(rec.Hash[:12]))
		_ = c.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketEnvs).Delete([]byte(rec.Hash))
		})
		metrics.CachedEnvironmentsTotal.Dec()
		if over > 0 {
			over--
		}
	}
}

func (c *Cache) envPath(shortHash string) string {
	return filepath.Join(c.root, shortHash)
}

func (c *Cache) get(hash string) (*record, error) {
	var rec *record
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEnvs).Get([]byte(hash))
		if v == nil {
			return nil
		}
		var r record
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		rec = &r
		return nil
	})
	return rec, err
}

func (c *Cache) put(rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnvs).Put([]byte(rec.Hash), data)
	})
}

func toCachedEnv(rec *record, path string) *types.CachedEnv {
	return &types.CachedEnv{
		Hash:      rec.Hash,
		Path:      path,
		DepList:   rec.DepList,
		CreatedAt: rec.CreatedAt,
		RefCount:  rec.RefCount,
	}
}

func writeMarker(envPath string, deps []string) error {
	sorted := append([]string(nil), deps...)
	sort.Strings(sorted)
	data := []byte(strings.Join(sorted, "\n") + "\n")
	return os.WriteFile(filepath.Join(envPath, ".deps"), data, 0o644)
}

// Link attaches sandboxPath/relativeName to a cached environment at
// envPath, preferring a symbolic link and falling back to a recursive
// copy whenever the symbolic link cannot be created.
func Link(envPath, sandboxPath, relativeName string) error {
	target := filepath.Join(sandboxPath, relativeName)
	if err := os.Symlink(envPath, target); err == nil {
		return nil
	}
	return copyDir(envPath, target)
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
