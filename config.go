// Copyright 2025 biosgen Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"
)

// ConfigFilename is looked up in the working directory when no --config is
// given.
const ConfigFilename = "biosgen.yaml"

// Config holds generation settings shared by every translate unit.
type Config struct {
	Backend         string     `yaml:"backend"`
	SafetyEntry     string     `yaml:"safety_entry"`
	StrictModifiers bool       `yaml:"strict_modifiers"`
	CheckShims      bool       `yaml:"check_shims"`
	Package         string     `yaml:"package,omitempty"`
	TargetOS        string     `yaml:"target_os,omitempty"`
	IncludePaths    []string   `yaml:"include_paths,omitempty"`
	ShimTable       []ShimSlot `yaml:"shim_table,omitempty"`
}

// ShimSlot declares one entry of the shim table.
type ShimSlot struct {
	Index uint64 `yaml:"index"`
	Name  string `yaml:"name"`
}

func DefaultConfig() Config {
	return Config{
		Backend:     "c",
		SafetyEntry: DefaultSafetyEntry,
		TargetOS:    runtime.GOOS,
	}
}

// LoadConfig reads the YAML file at path over the defaults and applies
// environment overrides. An empty path falls back to $BIOSGEN_CONFIG, then to
// ConfigFilename if it exists.
func LoadConfig(path string) (Config, error) {
	// env caches the process environment on first use
	env.Load()
	cfg := DefaultConfig()
	if path == "" {
		path = env.Str("BIOSGEN_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = ConfigFilename
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Backend = env.Str("BIOSGEN_BACKEND", c.Backend)
	c.SafetyEntry = env.Str("BIOSGEN_SAFETY_ENTRY", c.SafetyEntry)
	if env.Str("BIOSGEN_STRICT") != "" {
		c.StrictModifiers = env.Bool("BIOSGEN_STRICT")
	}
	if env.Str("BIOSGEN_CHECK_SHIMS") != "" {
		c.CheckShims = env.Bool("BIOSGEN_CHECK_SHIMS")
	}
}

func (c *Config) normalize() {
	if c.Backend == "" {
		c.Backend = "c"
	}
	if c.SafetyEntry == "" {
		c.SafetyEntry = DefaultSafetyEntry
	}
	if c.TargetOS == "" {
		c.TargetOS = runtime.GOOS
	}
}

// Validate rejects settings that would produce unusable output.
func (c Config) Validate() error {
	if _, err := GetBackend(c.Backend); err != nil {
		return err
	}
	if !isIdentifier(c.SafetyEntry) {
		return fmt.Errorf("invalid safety entry symbol: %q", c.SafetyEntry)
	}
	if c.Package != "" && !isIdentifier(c.Package) {
		return fmt.Errorf("invalid package name: %q", c.Package)
	}
	_, err := c.Registry()
	return err
}

// Registry returns a shim registry seeded with the declared shim table.
func (c Config) Registry() (*ShimRegistry, error) {
	registry := NewShimRegistry()
	for _, slot := range c.ShimTable {
		if !isIdentifier(slot.Name) {
			return nil, fmt.Errorf("shim_table: slot %d: invalid name %q", slot.Index, slot.Name)
		}
		if err := registry.Declare(slot.Index, slot.Name); err != nil {
			return nil, fmt.Errorf("shim_table: %w", err)
		}
	}
	return registry, nil
}
