// Package host describes what the TTS plugin needs from the assistant
// runtime that loads it.
package host

import (
	"path/filepath"
	"sync"
)

// AudioFile is a synthesized sentence stored on disk as <hash>.<ext>.
type AudioFile struct {
	Name string
	Path string
}

// NewAudioFile locates the audio for sentenceHash inside dir.
func NewAudioFile(dir, sentenceHash, ext string) AudioFile {
	name := sentenceHash + "." + ext
	return AudioFile{Name: name, Path: filepath.Join(dir, name)}
}

// Phonemes holds per-sentence phoneme data. Mimic 3 produces none, so the
// plugin always returns nil.
type Phonemes []string

// Entry is a cached sentence. Phonemes is nil when unknown, which is always
// the case for files found on disk at startup.
type Entry struct {
	Audio    AudioFile
	Phonemes Phonemes
}

// Cache maps sentence hashes to synthesized audio.
type Cache interface {
	Register(sentenceHash string, entry Entry)
	Lookup(sentenceHash string) (Entry, bool)
	Clear()
}

// Host is the runtime capability surface used by the plugin.
type Host interface {
	Cache() Cache
}

// Noop returns a host backed by a plain map, for running the plugin outside
// a full runtime.
func Noop() Host {
	return &noopHost{cache: &mapCache{entries: make(map[string]Entry)}}
}

type noopHost struct {
	cache *mapCache
}

func (h *noopHost) Cache() Cache { return h.cache }

type mapCache struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func (c *mapCache) Register(sentenceHash string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sentenceHash] = entry
}

func (c *mapCache) Lookup(sentenceHash string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sentenceHash]
	return e, ok
}

func (c *mapCache) Clear() {}
