// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"sync"
	"time"
)

// LogEntry is one line a tool server wrote to stderr.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
}

// RingBuffer keeps the most recent log lines of a server.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	head    int
	count   int
}

// DefaultLogCapacity is the number of stderr lines kept per server.
const DefaultLogCapacity = 500

// NewRingBuffer creates a ring buffer. Non-positive capacity uses DefaultLogCapacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &RingBuffer{entries: make([]LogEntry, capacity)}
}

// Add appends an entry, evicting the oldest when full.
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.entries)
	rb.entries[(rb.head+rb.count)%size] = entry
	if rb.count < size {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % size
	}
}

// Last returns up to n entries, oldest first. n <= 0 returns everything.
func (rb *RingBuffer) Last(n int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}
	out := make([]LogEntry, n)
	start := rb.count - n
	for i := 0; i < n; i++ {
		out[i] = rb.entries[(rb.head+start+i)%len(rb.entries)]
	}
	return out
}

// Len returns the number of stored entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
