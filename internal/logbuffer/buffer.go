/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps bounded in-memory ring buffers of relay process
// output, one per stream. The last lines of ffmpeg stderr are the primary
// diagnostic for a crashed stream, so they are retained after exit until
// the supervisor's stale-entry cleanup discards them.
package logbuffer

import (
	"strings"
	"sync"
	"time"
)

// Line is one captured line of relay output.
type Line struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Buffer is a thread-safe ring buffer of output lines.
type Buffer struct {
	mu       sync.RWMutex
	lines    []Line
	capacity int
	head     int
	count    int
}

// New creates a buffer holding at most capacity lines.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &Buffer{
		lines:    make([]Line, capacity),
		capacity: capacity,
	}
}

// Add appends a line, evicting the oldest when full.
func (b *Buffer) Add(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines[b.head] = Line{At: time.Now(), Text: text}
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// Lines returns all retained lines in chronological order.
func (b *Buffer) Lines() []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Line, b.count)
	if b.count == 0 {
		return result
	}

	start := 0
	if b.count == b.capacity {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		result[i] = b.lines[(start+i)%b.capacity]
	}
	return result
}

// Tail returns the newest n lines in chronological order.
func (b *Buffer) Tail(n int) []Line {
	all := b.Lines()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Search returns lines containing substr, case-insensitively.
func (b *Buffer) Search(substr string) []Line {
	needle := strings.ToLower(substr)
	var matched []Line
	for _, l := range b.Lines() {
		if strings.Contains(strings.ToLower(l.Text), needle) {
			matched = append(matched, l)
		}
	}
	return matched
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// Set maps stream ids to their output buffers.
type Set struct {
	mu       sync.Mutex
	bufs     map[string]*Buffer
	capacity int
}

// NewSet creates an empty buffer set; each stream's buffer holds at most
// capacity lines.
func NewSet(capacity int) *Set {
	return &Set{bufs: make(map[string]*Buffer), capacity: capacity}
}

// For returns the buffer for a stream id, creating it on first use.
func (s *Set) For(id string) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bufs[id]
	if !ok {
		b = New(s.capacity)
		s.bufs[id] = b
	}
	return b
}

// Peek returns the buffer for a stream id without creating one.
func (s *Set) Peek(id string) (*Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bufs[id]
	return b, ok
}

// Drop discards a stream's buffer.
func (s *Set) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bufs, id)
}

// IDs lists the stream ids currently holding a buffer.
func (s *Set) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.bufs))
	for id := range s.bufs {
		ids = append(ids, id)
	}
	return ids
}
