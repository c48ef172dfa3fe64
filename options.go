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

	"github.com/samber/lo"
)

// ModifierExpand64 marks a function taking a handle followed by a 64-bit
// value that the trampoline must split across r1/r2.
const ModifierExpand64 = "expand64"

var knownModifiers = []string{ModifierExpand64}

// OptionSet is the set of modifiers attached to one check_callsite request.
// Only membership is meaningful.
type OptionSet map[string]struct{}

// ParseOptions parses a comma-separated list of bare identifiers. An empty or
// blank list yields an empty set.
func ParseOptions(list string) (OptionSet, error) {
	set := OptionSet{}
	if strings.TrimSpace(list) == "" {
		return set, nil
	}
	names := lo.Map(strings.Split(list, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: empty modifier at position %d in %q", ErrMalformedOptions, i+1, list)
		}
		if !isIdentifier(name) {
			return nil, fmt.Errorf("%w: %q is not an identifier", ErrMalformedOptions, name)
		}
	}
	for _, name := range lo.Uniq(names) {
		set[name] = struct{}{}
	}
	return set, nil
}

// Has reports whether the modifier name was given.
func (s OptionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Unknown returns the modifiers that have no defined effect, sorted.
func (s OptionSet) Unknown() []string {
	unknown := lo.Filter(lo.Keys(s), func(name string, _ int) bool {
		return !lo.Contains(knownModifiers, name)
	})
	sort.Strings(unknown)
	return unknown
}

func (s OptionSet) String() string {
	names := lo.Keys(s)
	sort.Strings(names)
	return strings.Join(names, ",")
}
