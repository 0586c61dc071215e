// Package cache keeps recently synthesized sentences on disk so repeated
// phrases are served without calling the engine.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/loqalabs/loqa-mimic3/internal/host"
)

// Cache is an LRU of sentence hash to audio file. Files inside the cache
// directory are deleted on eviction; entries pointing elsewhere (such as a
// preloaded persistent cache) are only forgotten.
type Cache struct {
	dir     string
	ext     string
	entries *lru.Cache[string, host.Entry]
	log     *slog.Logger
}

// HashSentence is the cache key for a sentence.
func HashSentence(sentence string) string {
	sum := md5.Sum([]byte(sentence))
	return hex.EncodeToString(sum[:])
}

func New(dir, ext string, size int, log *slog.Logger) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{
		dir: filepath.Clean(dir),
		ext: ext,
		log: log.With(slog.String("component", "tts-cache")),
	}
	entries, err := lru.NewWithEvict[string, host.Entry](size, c.evicted)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.entries = entries
	return c, nil
}

// AudioFile is where the audio for sentenceHash is written.
func (c *Cache) AudioFile(sentenceHash string) host.AudioFile {
	return host.NewAudioFile(c.dir, sentenceHash, c.ext)
}

func (c *Cache) Register(sentenceHash string, entry host.Entry) {
	c.entries.Add(sentenceHash, entry)
}

// Lookup returns the entry only while its audio file still exists.
func (c *Cache) Lookup(sentenceHash string) (host.Entry, bool) {
	entry, ok := c.entries.Get(sentenceHash)
	if !ok {
		return host.Entry{}, false
	}
	if _, err := os.Stat(entry.Audio.Path); err != nil {
		c.entries.Remove(sentenceHash)
		return host.Entry{}, false
	}
	return entry, true
}

// Clear drops every entry, deleting files owned by the cache.
func (c *Cache) Clear() {
	c.entries.Purge()
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) evicted(sentenceHash string, entry host.Entry) {
	if filepath.Dir(entry.Audio.Path) != c.dir {
		return
	}
	if err := os.Remove(entry.Audio.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("failed to remove evicted audio",
			slog.String("hash", sentenceHash),
			slog.String("error", err.Error()))
	}
}

// Host exposes a Cache as the plugin's runtime host.
type Host struct {
	cache *Cache
}

func NewHost(c *Cache) Host {
	return Host{cache: c}
}

func (h Host) Cache() host.Cache { return h.cache }
