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

package transport

import "sync"

// pendingTable correlates outstanding requests with their responses.
// Every registered slot is removed exactly once, by resolve or cancel.
type pendingTable struct {
	mu    sync.Mutex
	next  int64
	calls map[int64]chan *message
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[int64]chan *message)}
}

// register allocates a request id and the channel its response arrives on.
func (p *pendingTable) register() (int64, <-chan *message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	ch := make(chan *message, 1)
	p.calls[p.next] = ch
	return p.next, ch
}

// resolve delivers a response to its waiter. It returns false when no
// request with that id is outstanding.
func (p *pendingTable) resolve(id int64, msg *message) bool {
	p.mu.Lock()
	ch, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()

	if ok {
		ch <- msg
	}
	return ok
}

// cancel frees the slot for an abandoned request.
func (p *pendingTable) cancel(id int64) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// clear drops every outstanding slot. Waiters observe the session ending
// through the transport's done channel.
func (p *pendingTable) clear() {
	p.mu.Lock()
	p.calls = make(map[int64]chan *message)
	p.mu.Unlock()
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
