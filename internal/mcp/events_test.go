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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	toolhublog "github.com/tombee/toolhub/internal/log"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(toolhublog.Discard())
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish(Event{Type: EventConnected, ServerID: "a"})

	select {
	case ev := <-ch:
		assert.Equal(t, EventConnected, ev.Type)
		assert.Equal(t, "a", ev.ServerID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(toolhublog.Discard())
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish(Event{Type: EventFailed, ServerID: "a"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, int64(4), bus.Dropped())
}

func TestBus_CancelAndClose(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe(0)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	other, _ := bus.Subscribe(1)
	bus.Close()
	_, open = <-other
	assert.False(t, open)

	late, _ := bus.Subscribe(1)
	_, open = <-late
	require.False(t, open)

	bus.Publish(Event{Type: EventConnected})
}
