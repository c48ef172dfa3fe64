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
	"strings"
	"testing"
)

// functionFromSource builds the Function the C parser would produce for the
// definition of name in src, without needing a host preprocessor.
func functionFromSource(t *testing.T, src, name string, params ...Parameter) *Function {
	t.Helper()
	nameOffset := strings.Index(src, " "+name+"(") + 1
	if nameOffset == 0 {
		t.Fatalf("no definition of %v in source", name)
	}
	start := strings.LastIndexByte(src[:nameOffset], '\n') + 1
	bodyOffset := nameOffset + strings.IndexByte(src[nameOffset:], '{')
	directives, err := parseDirectives("test.c", []byte(src), start)
	if err != nil {
		t.Fatalf("parseDirectives: %v", err)
	}
	caps, options, err := capabilities(directives)
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	prefix := src[start:nameOffset]
	return &Function{
		Name:         name,
		Position:     positionAt("test.c", []byte(src), nameOffset),
		Type:         strings.TrimSpace(storageWords.ReplaceAllString(prefix, "")),
		Parameters:   params,
		Signature:    strings.TrimSpace(src[start:bodyOffset]),
		Static:       staticWord.MatchString(prefix),
		Capabilities: caps,
		Options:      options,
		directives:   directives,
		start:        start,
		nameOffset:   nameOffset,
		bodyOffset:   bodyOffset,
	}
}

func gnuBody(tr Trampoline) []string {
	lines := make([]string, len(tr.Body))
	for i, inst := range tr.Body {
		lines[i] = inst.GNU()
	}
	return lines
}
