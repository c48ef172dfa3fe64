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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirectives(t *testing.T) {
	src := `#include "bios.h"

// Divide two numbers.
//bios:no_mangle
//bios:check_callsite(expand64, fast)
int32_t SVC_Div(int32_t a, int32_t b) { return a / b; }
`
	fn := functionFromSource(t, src, "SVC_Div")
	require.Len(t, fn.directives, 2)
	assert.Equal(t, directiveNoMangle, fn.directives[0].Name)
	assert.Equal(t, directiveCheckCallsite, fn.directives[1].Name)
	assert.Equal(t, "expand64, fast", fn.directives[1].Args)
	assert.Equal(t, 5, fn.directives[1].Pos.Line)
	assert.Equal(t, "//bios:check_callsite(expand64, fast)\n", src[fn.directives[1].start:fn.directives[1].end])

	assert.True(t, fn.Capabilities.Has(CapNoMangle))
	assert.True(t, fn.Capabilities.Has(CapCheckCallsite))
	assert.True(t, fn.Options.Has(ModifierExpand64))
	assert.True(t, fn.Options.Has("fast"))
}

func TestParseDirectivesStopsAtCode(t *testing.T) {
	src := `//bios:no_mangle
int x;
//bios:check_callsite
int f(void) { return 0; }
`
	fn := functionFromSource(t, src, "f")
	assert.Equal(t, CapCheckCallsite, fn.Capabilities)
}

func TestParseDirectivesMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"trailing words", "//bios:check_callsite expand64", ErrMalformedOptions},
		{"unbalanced", "//bios:check_callsite(expand64", ErrMalformedOptions},
		{"nested", "//bios:check_callsite((expand64))", ErrMalformedOptions},
		{"bad list", "//bios:check_callsite(expand64,)", ErrMalformedOptions},
		{"marker args", "//bios:no_mangle(x)", ErrMalformedOptions},
		{"unknown", "//bios:nomangle", ErrUnknownDirective},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.line + "\nint f(void) { return 0; }\n"
			directives, err := parseDirectives("test.c", []byte(src), len(tt.line)+1)
			if err == nil {
				_, _, err = capabilities(directives)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			var diagnostic *Diagnostic
			require.True(t, errors.As(err, &diagnostic))
			assert.Equal(t, 1, diagnostic.Pos.Line)
			assert.Equal(t, 1, diagnostic.Pos.Column)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"valid", "//bios:no_mangle\n//bios:check_callsite\nint f(void) { return 0; }\n", nil},
		{"missing marker", "//bios:check_callsite\nint f(void) { return 0; }\n", ErrMissingMarker},
		{"static", "//bios:no_mangle\n//bios:check_callsite\nstatic int f(void) { return 0; }\n", ErrInternalLinkage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(functionFromSource(t, tt.src, "f"))
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestMissingMarkerMessage(t *testing.T) {
	fn := functionFromSource(t, "//bios:check_callsite\nint f(void) { return 0; }\n", "f")
	err := Validate(fn)
	assert.EqualError(t, err, "test.c:2:5: error: check_callsite functions must also be no_mangle: f")
}
