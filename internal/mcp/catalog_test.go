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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/mcp/transport"
)

func tools(names ...string) []transport.Tool {
	out := make([]transport.Tool, len(names))
	for i, n := range names {
		out[i] = transport.Tool{Name: n, Description: n + " tool"}
	}
	return out
}

func exposedNames(ds []ToolDescriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}

func TestCatalog_UniqueNamesStayPlain(t *testing.T) {
	c := NewCatalog()
	c.Set("files", 0, tools("read", "write"), nil)
	c.Set("web", 0, tools("fetch"), nil)

	assert.Equal(t, []string{"fetch", "read", "write"}, exposedNames(c.AllTools()))

	d, ok := c.Resolve("read")
	require.True(t, ok)
	assert.Equal(t, "files", d.ServerID)
	assert.Equal(t, "read", d.OriginalName)
	assert.Equal(t, "files__read", d.QualifiedName)

	d, ok = c.Resolve("files__read")
	require.True(t, ok)
	assert.Equal(t, "files", d.ServerID)
}

func TestCatalog_Collisions(t *testing.T) {
	tests := []struct {
		name       string
		priorities map[string]int
		wantOwner  string
	}{
		{name: "higher priority wins", priorities: map[string]int{"alpha": 1, "beta": 5}, wantOwner: "beta"},
		{name: "tie goes to smallest id", priorities: map[string]int{"alpha": 2, "beta": 2}, wantOwner: "alpha"},
		{name: "negative priorities", priorities: map[string]int{"alpha": -3, "beta": -1}, wantOwner: "beta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCatalog()
			for id, p := range tt.priorities {
				c.Set(id, p, tools("search"), nil)
			}

			assert.Equal(t, []string{"alpha__search", "beta__search"}, exposedNames(c.AllTools()))

			d, ok := c.Resolve("search")
			require.True(t, ok)
			assert.Equal(t, tt.wantOwner, d.ServerID)
			assert.Equal(t, "search", d.OriginalName)

			for _, id := range []string{"alpha", "beta"} {
				d, ok := c.Resolve(id + "__search")
				require.True(t, ok)
				assert.Equal(t, id, d.ServerID)
			}
		})
	}
}

func TestCatalog_RemoveRestoresPlainName(t *testing.T) {
	c := NewCatalog()
	c.Set("alpha", 0, tools("search"), nil)
	c.Set("beta", 0, tools("search"), nil)
	v := c.Version()

	c.Remove("beta")
	assert.Greater(t, c.Version(), v)
	assert.Equal(t, []string{"search"}, exposedNames(c.AllTools()))

	_, ok := c.Resolve("beta__search")
	assert.False(t, ok)
	assert.Empty(t, c.ToolsForServer("beta"))

	v = c.Version()
	c.Remove("beta")
	assert.Equal(t, v, c.Version(), "removing an absent server is not a change")
}

func TestCatalog_DuplicateToolFromOneServer(t *testing.T) {
	c := NewCatalog()
	c.Set("files", 0, tools("read", "read"), nil)
	assert.Equal(t, []string{"read"}, exposedNames(c.AllTools()))
}

func TestCatalog_Resources(t *testing.T) {
	c := NewCatalog()
	c.Set("b", 0, nil, []transport.Resource{{URI: "file:///z"}, {URI: "file:///a"}})
	c.Set("a", 0, nil, []transport.Resource{{URI: "file:///m", Name: "m", MIMEType: "text/plain"}})

	all := c.AllResources()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ServerID)
	assert.Equal(t, "file:///a", all[1].URI)
	assert.Equal(t, "file:///z", all[2].URI)

	require.Len(t, c.ResourcesForServer("a"), 1)
	assert.Equal(t, "text/plain", c.ResourcesForServer("a")[0].MIMEType)
}

func TestCatalog_SnapshotIsolation(t *testing.T) {
	c := NewCatalog()
	c.Set("files", 0, tools("read"), nil)

	list := c.AllTools()
	list[0].Name = "mutated"

	d, ok := c.Resolve("read")
	require.True(t, ok)
	assert.Equal(t, "read", d.Name)
}
