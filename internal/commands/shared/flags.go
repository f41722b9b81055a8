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

package shared

import "os"

// DefaultAddr is the control surface address clients use when neither
// --addr nor TOOLHUB_ADDR is set.
const DefaultAddr = "http://127.0.0.1:7420"

// Global flag values - set by root command
var (
	jsonFlag   bool
	configFlag string
	addrFlag   string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to flag variables for binding.
// Called by root command to register flags.
func RegisterFlagPointers() (jsonOut *bool, config *string, addr *string) {
	return &jsonFlag, &configFlag, &addrFlag
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetJSON returns the JSON output flag value
func GetJSON() bool {
	return jsonFlag
}

// GetConfigPath returns the config file path
func GetConfigPath() string {
	return configFlag
}

// GetAddr returns the control surface base URL.
func GetAddr() string {
	if addrFlag != "" {
		return addrFlag
	}
	if env := os.Getenv("TOOLHUB_ADDR"); env != "" {
		return env
	}
	return DefaultAddr
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}
