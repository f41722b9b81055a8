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

package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/store/storetest"
)

// createTestStore creates a SQLite store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return createTestStore(t)
	})
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := New(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.CreateServer(t.Context(), testServer("persisted")))
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	s, err = New(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetServer(t.Context(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.ID)
}

func TestFormatTime_Ordering(t *testing.T) {
	a := formatTime(base())
	b := formatTime(base().Add(1500))
	assert.Less(t, a, b)
	assert.True(t, parseTime(b).Equal(base().Add(1500)))
}

func base() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func testServer(id string) mcp.ServerConfig {
	return mcp.ServerConfig{
		ID:        id,
		Name:      id,
		Transport: mcp.TransportProcess,
		Command:   "server",
		Enabled:   true,
		CreatedAt: base(),
		UpdatedAt: base(),
	}
}
