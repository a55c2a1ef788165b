// Package streambuffer keeps the single in-flight entry of every stream.
package streambuffer

import (
	"sort"
	"sync"

	"edgeclassifier/internal/model"
)

// Buffer maps a stream URI to its buffered entry. The tick loop is its only
// writer; the RWMutex lets status readers run alongside it.
type Buffer struct {
	entries map[string]model.Entry
	mu      sync.RWMutex
}

func New() *Buffer {
	return &Buffer{entries: make(map[string]model.Entry)}
}

// Get returns the buffered entry for streamURI.
func (b *Buffer) Get(streamURI string) (model.Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[streamURI]
	return entry, ok
}

// Set replaces the entry for streamURI. The new raw frame is pinned and the
// frame it replaces is unpinned.
func (b *Buffer) Set(streamURI string, entry model.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, ok := b.entries[streamURI]
	if entry.Raw != nil {
		entry.Raw.Pin()
	}
	if ok && prev.Raw != nil && prev.Raw != entry.Raw {
		prev.Raw.Unpin()
	}
	b.entries[streamURI] = entry
}

// Remove drops the entry for streamURI and unpins its frame.
func (b *Buffer) Remove(streamURI string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[streamURI]
	if !ok {
		return false
	}
	if entry.Raw != nil {
		entry.Raw.Unpin()
	}
	delete(b.entries, streamURI)
	return true
}

// Streams returns the buffered stream URIs in sorted order.
func (b *Buffer) Streams() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	streams := make([]string, 0, len(b.entries))
	for uri := range b.entries {
		streams = append(streams, uri)
	}
	sort.Strings(streams)
	return streams
}

// Len returns the number of buffered streams.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
