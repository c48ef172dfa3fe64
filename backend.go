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
	"fmt"
	"sort"
	"strings"
)

// Backend renders a translated unit into output files.
type Backend interface {
	// Name returns the backend name used by --backend.
	Name() string

	// Emit renders the unit. Renamed implementations always precede their
	// trampolines in the output.
	Emit(t *TranslateUnit, unit *Unit) ([]GeneratedFile, error)
}

// backends holds the registered backends
var backends = map[string]Backend{}

// RegisterBackend registers an output backend
func RegisterBackend(name string, b Backend) {
	backends[name] = b
}

// GetBackend returns the backend with the given name
func GetBackend(name string) (Backend, error) {
	if b, ok := backends[name]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("unsupported backend: %s (available: %s)", name, strings.Join(ListBackends(), ", "))
}

// ListBackends returns the registered backend names, sorted.
func ListBackends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type edit struct {
	start, end int
	text       string
}

// rewriteSource returns the unit's C source with every check_callsite
// function renamed to its implementation name, its check_callsite directive
// dropped and a prototype of the trampoline inserted ahead of it, so code
// later in the file keeps calling the trampoline.
func rewriteSource(unit *Unit) string {
	var edits []edit
	for _, synthesis := range unit.Syntheses {
		fn := synthesis.Trampoline.Signature
		for _, d := range fn.directives {
			if d.Name == directiveCheckCallsite {
				edits = append(edits, edit{start: d.start, end: d.end})
			}
		}
		edits = append(edits,
			edit{start: fn.start, end: fn.start, text: fn.Signature + ";\n\n"},
			edit{start: fn.nameOffset, end: fn.nameOffset + len(fn.Name), text: synthesis.Implementation.Name},
		)
	}
	sort.SliceStable(edits, func(i, j int) bool {
		return edits[i].start < edits[j].start
	})

	var builder strings.Builder
	offset := 0
	for _, e := range edits {
		builder.Write(unit.Source[offset:e.start])
		builder.WriteString(e.text)
		offset = e.end
	}
	builder.Write(unit.Source[offset:])
	return builder.String()
}
