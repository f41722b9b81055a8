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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/toolhub/internal/mcp"
)

// serversFile is the on-disk shape of a servers file.
type serversFile struct {
	Servers []yaml.Node `yaml:"servers"`
}

// LoadServersFile reads a servers file:
//
//	servers:
//	  - id: fs
//	    name: Filesystem
//	    transport: process
//	    command: mcp-fs
//
// Entries are enabled unless they say otherwise. Entries are not validated
// here; the registry reports invalid ones per server when syncing.
func LoadServersFile(path string) ([]mcp.ServerConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}
	return ParseServers(data)
}

// ParseServers decodes servers file content.
func ParseServers(data []byte) ([]mcp.ServerConfig, error) {
	var file serversFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse servers file: %w", err)
	}

	out := make([]mcp.ServerConfig, 0, len(file.Servers))
	seen := make(map[string]int, len(file.Servers))
	for i := range file.Servers {
		cfg := mcp.ServerConfig{Enabled: true}
		if err := file.Servers[i].Decode(&cfg); err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}
		if prev, dup := seen[cfg.ID]; dup && cfg.ID != "" {
			return nil, fmt.Errorf("servers[%d]: id %q already used by servers[%d]", i, cfg.ID, prev)
		}
		seen[cfg.ID] = i
		out = append(out, cfg)
	}
	return out, nil
}
