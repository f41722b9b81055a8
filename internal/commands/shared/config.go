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

import "github.com/tombee/toolhub/internal/config"

// LoadConfig loads the file named by --config, or the default config file
// when the flag is unset. Invalid config is an invalid-arguments exit.
func LoadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := GetConfigPath(); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, NewInvalidArgsError("invalid configuration", err)
	}
	return cfg, nil
}
