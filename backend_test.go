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
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seekUnitSource = `#include <stdint.h>

//bios:no_mangle
//bios:check_callsite(expand64)
int32_t SVC_Seek(void *handle, int64_t offset) {
	return seek(handle, offset);
}

int caller(void) {
	return SVC_Seek(0, 1);
}
`

const seekUnitRewritten = `#include <stdint.h>

//bios:no_mangle
int32_t SVC_Seek(void *handle, int64_t offset);

int32_t RAW_SVC_Seek(void *handle, int64_t offset) {
	return seek(handle, offset);
}

int caller(void) {
	return SVC_Seek(0, 1);
}
`

var seekParameters = []Parameter{
	{Name: "handle", ParameterType: ParameterType{Type: "void", Pointer: true}},
	{Name: "offset", ParameterType: ParameterType{Type: "int64_t"}},
}

// seekUnit returns a translate unit for seek.c using backend, and the unit
// the pipeline would hand to it.
func seekUnit(t *testing.T, backend string) (*TranslateUnit, *Unit) {
	t.Helper()
	config := DefaultConfig()
	config.Backend = backend
	tu, err := NewTranslateUnit("seek.c", filepath.Join(t.TempDir(), "out"), config, nil)
	require.NoError(t, err)

	fn := functionFromSource(t, seekUnitSource, "SVC_Seek", seekParameters...)
	synthesis, err := (&Synthesizer{}).Synthesize(fn)
	require.NoError(t, err)
	return tu, &Unit{
		Source:    []byte(seekUnitSource),
		Functions: []*Function{fn},
		Syntheses: []Synthesis{synthesis},
	}
}

func header(backend, comment string) string {
	return comment + " Code generated by biosgen. DO NOT EDIT.\n" +
		comment + " backend: " + backend + "\n" +
		comment + " safety entry: BiosSafeShim\n" +
		comment + " source: seek.c\n\n"
}

func TestRewriteSource(t *testing.T) {
	_, unit := seekUnit(t, "c")
	assert.Equal(t, seekUnitRewritten, rewriteSource(unit))
}

func TestRewriteSourceWithoutTrampolines(t *testing.T) {
	unit := &Unit{Source: []byte(seekUnitSource)}
	assert.Equal(t, seekUnitSource, rewriteSource(unit))
}

func TestCBackend(t *testing.T) {
	tu, unit := seekUnit(t, "c")
	files, err := tu.backend.Emit(tu, unit)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(tu.OutputDir, "seek.bios.c"), files[0].Path)

	want := header("c", "//") + seekUnitRewritten + `
// Trampolines

__attribute__((naked, target("arm")))
int32_t SVC_Seek(void *handle, int64_t offset)
{
	__asm__ volatile(
		"mov r2, r1\n\t"
		"add r1, r1, #4\n\t"
		"ldr ip, =RAW_SVC_Seek\n\t"
		"b BiosSafeShim\n\t"
		".ltorg\n\t"
	);
}
`
	assert.Equal(t, want, string(files[0].Content))

	// the implementation is emitted before the trampoline
	content := string(files[0].Content)
	assert.Less(t, strings.Index(content, "RAW_SVC_Seek(void"), strings.Index(content, "__attribute__((naked"))
}

func TestGASBackend(t *testing.T) {
	tu, unit := seekUnit(t, "gas")
	files, err := tu.backend.Emit(tu, unit)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, header("gas", "//")+seekUnitRewritten, string(files[0].Content))
	assert.Equal(t, filepath.Join(tu.OutputDir, "seek_shim.S"), files[1].Path)
	assert.Equal(t, header("gas", "@")+`	.syntax unified
	.text

	.arm
	.global SVC_Seek
	.type SVC_Seek, %function
	.p2align 2
SVC_Seek:
	mov r2, r1
	add r1, r1, #4
	ldr ip, =RAW_SVC_Seek
	b BiosSafeShim
	.ltorg
	.size SVC_Seek, .-SVC_Seek
`, string(files[1].Content))
}

func TestGASBackendWithoutTrampolines(t *testing.T) {
	tu, _ := seekUnit(t, "gas")
	files, err := tu.backend.Emit(tu, &Unit{Source: []byte("int f(void) { return 0; }\n")})
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestGoAsmBackend(t *testing.T) {
	tu, unit := seekUnit(t, "goasm")
	files, err := tu.backend.Emit(tu, unit)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, header("goasm", "//")+seekUnitRewritten, string(files[0].Content))
	assert.Equal(t, filepath.Join(tu.OutputDir, "seek_arm.s"), files[1].Path)
	assert.Equal(t, filepath.Join(tu.OutputDir, "seek_arm.go"), files[2].Path)

	assembly := string(files[1].Content)
	assert.True(t, strings.HasPrefix(assembly, goasmBuildTags))
	assert.Contains(t, assembly, `#include "textflag.h"`)
	// the trampoline is defined under its C symbol, not as a Go function
	assert.Contains(t, assembly, "TEXT SVC_Seek(SB), NOSPLIT|NOFRAME, $0\n")
	assert.NotContains(t, assembly, "TEXT ·SVC_Seek")
	for _, pattern := range []string{
		`MOVW\s+R1, R2\s+ADD\s+\$4, R1\s+MOVW\s+\$RAW_SVC_Seek\(SB\), R12\s+B\s+BiosSafeShim\(SB\)`,
		`DATA\s+bios_trampolines<>\+0\(SB\)/4, \$SVC_Seek\(SB\)`,
		`GLOBL\s+bios_trampolines<>\(SB\), RODATA, \$4`,
		`TEXT ·trampolineTable\(SB\), NOSPLIT, \$0-4`,
	} {
		assert.Regexp(t, regexp.MustCompile(pattern), assembly)
	}

	assert.Equal(t, goasmBuildTags+header("goasm", "//")+`package out

/*
#include <stdint.h>

int32_t SVC_Seek(void *handle, int64_t offset);
*/
import "C"

import "unsafe"

var _ = trampolineTable()

// trampolineTable returns the address of the trampoline table.
func trampolineTable() uintptr

func SVC_Seek(handle unsafe.Pointer, offset int64) int32 {
	return int32(C.SVC_Seek(handle, C.int64_t(offset)))
}
`, string(files[2].Content))
}

func TestGoAsmBackendTable(t *testing.T) {
	tu, _ := seekUnit(t, "goasm")
	src := seekUnitSource + `
//bios:no_mangle
//bios:check_callsite
int32_t SVC_Div(int32_t a, int32_t b) {
	return a / b;
}
`
	unit := &Unit{Source: []byte(src)}
	for _, fn := range []*Function{
		functionFromSource(t, src, "SVC_Seek", seekParameters...),
		functionFromSource(t, src, "SVC_Div",
			Parameter{Name: "a", ParameterType: ParameterType{Type: "int32_t"}},
			Parameter{Name: "b", ParameterType: ParameterType{Type: "int32_t"}}),
	} {
		synthesis, err := (&Synthesizer{}).Synthesize(fn)
		require.NoError(t, err)
		unit.Functions = append(unit.Functions, fn)
		unit.Syntheses = append(unit.Syntheses, synthesis)
	}

	files, err := tu.backend.Emit(tu, unit)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Contains(t, string(files[0].Content), "int32_t RAW_SVC_Div(int32_t a, int32_t b) {")
	assembly := string(files[1].Content)
	assert.Regexp(t, regexp.MustCompile(`DATA\s+bios_trampolines<>\+0\(SB\)/4, \$SVC_Seek\(SB\)`), assembly)
	assert.Regexp(t, regexp.MustCompile(`DATA\s+bios_trampolines<>\+4\(SB\)/4, \$SVC_Div\(SB\)`), assembly)
	assert.Regexp(t, regexp.MustCompile(`GLOBL\s+bios_trampolines<>\(SB\), RODATA, \$8`), assembly)
	stubs := string(files[2].Content)
	assert.Contains(t, stubs, "int32_t SVC_Div(int32_t a, int32_t b);\n")
	assert.Contains(t, stubs, "func SVC_Div(a, b int32) int32 {\n\treturn int32(C.SVC_Div(C.int32_t(a), C.int32_t(b)))\n}\n")
}

func TestNewGoBinding(t *testing.T) {
	tests := []struct {
		name      string
		fn        Function
		prototype string
		fun       string
		hasPtr    bool
	}{
		{
			name:      "void",
			fn:        Function{Name: "SVC_Halt", Type: "void"},
			prototype: "void SVC_Halt(void);",
			fun:       "func SVC_Halt() {\n\tC.SVC_Halt()\n}\n",
		},
		{
			name:      "grouped",
			fn:        Function{Name: "SVC_Div", Type: "int32_t", Parameters: []Parameter{{Name: "a", ParameterType: ParameterType{Type: "int32_t"}}, {Name: "b", ParameterType: ParameterType{Type: "int"}}}},
			prototype: "int32_t SVC_Div(int32_t a, int32_t b);",
			fun:       "func SVC_Div(a, b int32) int32 {\n\treturn int32(C.SVC_Div(C.int32_t(a), C.int32_t(b)))\n}\n",
		},
		{
			name:      "renamed params",
			fn:        Function{Name: "f", Type: "uint8_t", Parameters: []Parameter{{Name: "type", ParameterType: ParameterType{Type: "uint8_t"}}, {Name: "C", ParameterType: ParameterType{Type: "uint16_t"}}, {ParameterType: ParameterType{Type: "u32"}}}},
			prototype: "uint8_t f(uint8_t type_, uint16_t c_, uint32_t arg2);",
			fun:       "func f(type_ uint8, c_ uint16, arg2 uint32) uint8 {\n\treturn uint8(C.f(C.uint8_t(type_), C.uint16_t(c_), C.uint32_t(arg2)))\n}\n",
		},
		{
			name:      "pointer result",
			fn:        Function{Name: "f", Type: "const uint8_t *", Parameters: []Parameter{{Name: "v", ParameterType: ParameterType{Type: "double"}}}},
			prototype: "void *f(double v);",
			fun:       "func f(v float64) unsafe.Pointer {\n\treturn unsafe.Pointer(C.f(C.double(v)))\n}\n",
			hasPtr:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			binding, err := newGoBinding(&tt.fn)
			require.NoError(t, err)
			assert.Equal(t, tt.prototype, binding.Prototype)
			assert.Equal(t, tt.fun, binding.Func)
			assert.Equal(t, tt.hasPtr, binding.HasPointer)
		})
	}
}

func TestNewGoBindingUnsupported(t *testing.T) {
	fn := Function{Name: "f", Type: "void", Parameters: []Parameter{{Name: "s", ParameterType: ParameterType{Type: "struct"}}}}
	_, err := newGoBinding(&fn)
	assert.Error(t, err)
}

func TestGetBackend(t *testing.T) {
	assert.Equal(t, []string{"c", "gas", "goasm"}, ListBackends())
	for _, name := range ListBackends() {
		backend, err := GetBackend(name)
		require.NoError(t, err)
		assert.Equal(t, name, backend.Name())
	}
	_, err := GetBackend("llvm")
	assert.Error(t, err)
}
