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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tombee/toolhub/internal/mcp/transport"
)

// ToolNameSeparator joins a server id and a tool name in qualified names.
// Dots are avoided because engines restrict function names to [a-zA-Z0-9_-].
const ToolNameSeparator = "__"

// QualifiedToolName returns the server-qualified alias of a tool.
func QualifiedToolName(serverID, tool string) string {
	return serverID + ToolNameSeparator + tool
}

type catalogServer struct {
	id        string
	priority  int
	tools     []transport.Tool
	resources []transport.Resource
}

// catalogSnapshot is immutable once published.
type catalogSnapshot struct {
	version   uint64
	tools     []ToolDescriptor
	resources []ResourceDescriptor
	byName    map[string]ToolDescriptor
}

// Catalog is the live union of tools and resources across connected
// servers. Readers see an immutable snapshot; writers rebuild it and swap
// it in whole, so a reader never sees a half-updated catalog.
type Catalog struct {
	mu      sync.Mutex
	servers map[string]catalogServer
	version uint64

	snap atomic.Pointer[catalogSnapshot]
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	c := &Catalog{servers: make(map[string]catalogServer)}
	c.snap.Store(&catalogSnapshot{byName: map[string]ToolDescriptor{}})
	return c
}

// Set replaces everything a server contributes.
func (c *Catalog) Set(serverID string, priority int, tools []transport.Tool, resources []transport.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.servers[serverID] = catalogServer{
		id:        serverID,
		priority:  priority,
		tools:     append([]transport.Tool(nil), tools...),
		resources: append([]transport.Resource(nil), resources...),
	}
	c.rebuildLocked()
}

// Remove drops everything a server contributes.
func (c *Catalog) Remove(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.servers[serverID]; !ok {
		return
	}
	delete(c.servers, serverID)
	c.rebuildLocked()
}

// AllTools returns every exposed tool, sorted by name.
func (c *Catalog) AllTools() []ToolDescriptor {
	return append([]ToolDescriptor(nil), c.snap.Load().tools...)
}

// ToolsForServer returns the tools one server contributes.
func (c *Catalog) ToolsForServer(serverID string) []ToolDescriptor {
	var out []ToolDescriptor
	for _, t := range c.snap.Load().tools {
		if t.ServerID == serverID {
			out = append(out, t)
		}
	}
	return out
}

// AllResources returns every resource, sorted by server then URI.
func (c *Catalog) AllResources() []ResourceDescriptor {
	return append([]ResourceDescriptor(nil), c.snap.Load().resources...)
}

// ResourcesForServer returns the resources one server contributes.
func (c *Catalog) ResourcesForServer(serverID string) []ResourceDescriptor {
	var out []ResourceDescriptor
	for _, r := range c.snap.Load().resources {
		if r.ServerID == serverID {
			out = append(out, r)
		}
	}
	return out
}

// Resolve finds the tool a name refers to. Exposed names, qualified names,
// and unqualified names of colliding tools all resolve; the last go to the
// highest-priority server.
func (c *Catalog) Resolve(name string) (ToolDescriptor, bool) {
	d, ok := c.snap.Load().byName[name]
	return d, ok
}

// Version increases on every change.
func (c *Catalog) Version() uint64 {
	return c.snap.Load().version
}

func (c *Catalog) rebuildLocked() {
	c.version++

	// Order servers so the winner of every unqualified name comes first:
	// priority descending, then id ascending.
	servers := make([]catalogServer, 0, len(c.servers))
	for _, s := range c.servers {
		servers = append(servers, s)
	}
	sort.Slice(servers, func(i, j int) bool {
		if servers[i].priority != servers[j].priority {
			return servers[i].priority > servers[j].priority
		}
		return servers[i].id < servers[j].id
	})

	owners := make(map[string]int)
	for _, s := range servers {
		seen := make(map[string]bool, len(s.tools))
		for _, t := range s.tools {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			owners[t.Name]++
		}
	}

	snap := &catalogSnapshot{
		version: c.version,
		byName:  make(map[string]ToolDescriptor),
	}
	qualified := make(map[string]ToolDescriptor)

	for _, s := range servers {
		seen := make(map[string]bool, len(s.tools))
		for _, t := range s.tools {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true

			d := ToolDescriptor{
				Name:          t.Name,
				OriginalName:  t.Name,
				QualifiedName: QualifiedToolName(s.id, t.Name),
				Description:   t.Description,
				InputSchema:   t.InputSchema,
				ServerID:      s.id,
			}
			if owners[t.Name] > 1 {
				d.Name = d.QualifiedName
			}
			snap.tools = append(snap.tools, d)

			if _, taken := snap.byName[t.Name]; !taken {
				snap.byName[t.Name] = d
			}
			qualified[d.QualifiedName] = d
		}

		for _, r := range s.resources {
			snap.resources = append(snap.resources, ResourceDescriptor{
				URI:         r.URI,
				Name:        r.Name,
				Description: r.Description,
				MIMEType:    r.MIMEType,
				ServerID:    s.id,
			})
		}
	}
	for name, d := range qualified {
		snap.byName[name] = d
	}

	sort.Slice(snap.tools, func(i, j int) bool { return snap.tools[i].Name < snap.tools[j].Name })
	sort.Slice(snap.resources, func(i, j int) bool {
		if snap.resources[i].ServerID != snap.resources[j].ServerID {
			return snap.resources[i].ServerID < snap.resources[j].ServerID
		}
		return snap.resources[i].URI < snap.resources[j].URI
	})

	c.snap.Store(snap)
}
