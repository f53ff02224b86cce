// Copyright 2025 The Silica Authors
// This file is part of Silica.
//
// Silica is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Silica is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Silica. If not, see <http://www.gnu.org/licenses/>.

package native

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/tsdb/fileutil"
	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/singleflight"

	log "github.com/inconshreveable/log15"
)

// ModuleInfo describes one cached AOT artifact.
type ModuleInfo struct {
	Key       string    `json:"key"`
	Design    string    `json:"design"`
	Hash      string    `json:"hash"` // design hash baked into the module
	GoVersion string    `json:"goVersion"`
	BuiltAt   time.Time `json:"builtAt"`
	LastUsed  time.Time `json:"lastUsed"`
	Size      int64     `json:"size"`
}

// moduleCache stores built plugin modules under dir, keyed by design
// content. The layout is LOCK (exclusive flock held while open), index/
// (leveldb of ModuleInfo records) and modules/<key>.so. A failure to open
// the cache is not fatal to AOT: callers fall back to a one-shot build in a
// temporary directory.
type moduleCache struct {
	dir   string
	lock  fileutil.Releaser
	index *leveldb.DB
	meta  *lru.ARCCache      // recently used index entries
	group singleflight.Group // collapses concurrent builds of one key
}

// contentKey derives the artifact key for a design hash. The generator
// version and the Go toolchain version are folded in so artifacts stop
// matching when either changes.
func contentKey(designHash string) string {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%s\x00g%d\x00%s", designHash, genVersion, runtime.Version())
	return hex.EncodeToString(h.Sum(nil))
}

// defaultCacheDir is used when the configuration names none.
func defaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "silica"), nil
}

// openCache acquires the cache directory. The flock is held until Close so
// prune and build never race across processes.
func openCache(dir string) (*moduleCache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	release, _, err := fileutil.Flock(filepath.Join(dir, "LOCK"))
	if err != nil {
		return nil, err
	}
	index, err := leveldb.OpenFile(filepath.Join(dir, "index"), nil)
	if err != nil {
		release.Release()
		return nil, err
	}
	meta, _ := lru.NewARC(64)
	return &moduleCache{dir: dir, lock: release, index: index, meta: meta}, nil
}

func (c *moduleCache) Close() error {
	err := c.index.Close()
	if lerr := c.lock.Release(); err == nil {
		err = lerr
	}
	return err
}

func (c *moduleCache) modulePath(key string) string {
	return filepath.Join(c.dir, "modules", key+".so")
}

// shortKey abbreviates a content key for logging.
func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// ensure returns the artifact path for key. When the artifact is missing,
// build is invoked with the destination path and must leave the finished
// module there. Concurrent callers of the same key share one build.
func (c *moduleCache) ensure(key string, info ModuleInfo, build func(dst string) error) (string, error) {
	path, err, _ := c.group.Do(key, func() (interface{}, error) {
		dst := c.modulePath(key)
		if m, ok := c.lookup(key); ok {
			if _, err := os.Stat(dst); err == nil {
				cacheHitMeter.Mark(1)
				c.touch(key, m)
				return dst, nil
			}
		}
		cacheMissMeter.Mark(1)
		if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
			return nil, err
		}
		if err := build(dst); err != nil {
			return nil, err
		}
		info.Key = key
		info.BuiltAt = time.Now()
		info.LastUsed = info.BuiltAt
		if st, err := os.Stat(dst); err == nil {
			info.Size = st.Size()
		}
		c.put(key, info)
		log.Debug("cached aot module", "design", info.Design, "key", shortKey(key), "size", info.Size)
		return dst, nil
	})
	if err != nil {
		return "", err
	}
	return path.(string), nil
}

func (c *moduleCache) lookup(key string) (ModuleInfo, bool) {
	if v, ok := c.meta.Get(key); ok {
		return v.(ModuleInfo), true
	}
	blob, err := c.index.Get([]byte(key), nil)
	if err != nil {
		return ModuleInfo{}, false
	}
	var m ModuleInfo
	if err := json.Unmarshal(blob, &m); err != nil {
		return ModuleInfo{}, false
	}
	c.meta.Add(key, m)
	return m, true
}

func (c *moduleCache) put(key string, m ModuleInfo) {
	blob, err := json.Marshal(&m)
	if err != nil {
		return
	}
	if err := c.index.Put([]byte(key), blob, nil); err != nil {
		log.Warn("cache index write failed", "key", shortKey(key), "err", err)
		return
	}
	c.meta.Add(key, m)
}

func (c *moduleCache) touch(key string, m ModuleInfo) {
	m.LastUsed = time.Now()
	c.put(key, m)
}

// entries lists every record in the index, including ones whose artifact
// has gone missing.
func (c *moduleCache) entries() ([]ModuleInfo, error) {
	var out []ModuleInfo
	it := c.index.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		var m ModuleInfo
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, it.Error()
}

// prune removes artifacts not used within keep, plus index records whose
// artifact is already gone. It returns the number of records dropped.
func (c *moduleCache) prune(keep time.Duration) (int, error) {
	entries, err := c.entries()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-keep)
	dropped := 0
	for _, m := range entries {
		path := c.modulePath(m.Key)
		_, statErr := os.Stat(path)
		if m.LastUsed.After(cutoff) && statErr == nil {
			continue
		}
		if statErr == nil {
			if err := os.Remove(path); err != nil {
				log.Warn("cache artifact removal failed", "key", shortKey(m.Key), "err", err)
				continue
			}
		}
		if err := c.index.Delete([]byte(m.Key), nil); err != nil {
			return dropped, err
		}
		c.meta.Remove(m.Key)
		dropped++
	}
	return dropped, nil
}

// CacheEntries lists the AOT modules cached under dir. An empty dir selects
// the default per-user cache location.
func CacheEntries(dir string) ([]ModuleInfo, error) {
	c, err := openNamedCache(dir)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.entries()
}

// PruneCache drops cached modules not used within keep and returns how many
// were removed.
func PruneCache(dir string, keep time.Duration) (int, error) {
	c, err := openNamedCache(dir)
	if err != nil {
		return 0, err
	}
	defer c.Close()
	return c.prune(keep)
}

func openNamedCache(dir string) (*moduleCache, error) {
	if dir == "" {
		var err error
		if dir, err = defaultCacheDir(); err != nil {
			return nil, err
		}
	}
	return openCache(dir)
}
