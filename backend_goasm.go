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
	"go/token"
	"strings"

	"github.com/klauspost/asmfmt"
	"github.com/samber/lo"
)

const (
	goasmBuildTags        = "//go:build !noasm && arm\n"
	trampolineTableSymbol = "bios_trampolines<>"
)

// GoAsmBackend emits the trampolines as Go assembly with cgo wrappers for
// Go callers, and the renamed implementations as C.
type GoAsmBackend struct{}

func (b *GoAsmBackend) Name() string {
	return "goasm"
}

var goTypes = map[string]string{
	"_Bool":              "bool",
	"bool":               "bool",
	"char":               "int8",
	"signed char":        "int8",
	"int8_t":             "int8",
	"s8":                 "int8",
	"unsigned char":      "uint8",
	"uint8_t":            "uint8",
	"u8":                 "uint8",
	"short":              "int16",
	"int16_t":            "int16",
	"s16":                "int16",
	"unsigned short":     "uint16",
	"uint16_t":           "uint16",
	"u16":                "uint16",
	"int":                "int32",
	"long":               "int32",
	"int32_t":            "int32",
	"s32":                "int32",
	"unsigned":           "uint32",
	"unsigned int":       "uint32",
	"unsigned long":      "uint32",
	"uint32_t":           "uint32",
	"u32":                "uint32",
	"uintptr_t":          "uintptr",
	"size_t":             "uintptr",
	"int64_t":            "int64",
	"long long":          "int64",
	"long long int":      "int64",
	"signed long long":   "int64",
	"s64":                "int64",
	"uint64_t":           "uint64",
	"unsigned long long": "uint64",
	"u64":                "uint64",
	"float":              "float32",
	"double":             "float64",
}

// cTypes maps Go types back to the C type cgo converts them with.
var cTypes = map[string]string{
	"bool":    "_Bool",
	"int8":    "int8_t",
	"uint8":   "uint8_t",
	"int16":   "int16_t",
	"uint16":  "uint16_t",
	"int32":   "int32_t",
	"uint32":  "uint32_t",
	"uintptr": "uintptr_t",
	"int64":   "int64_t",
	"uint64":  "uint64_t",
	"float32": "float",
	"float64": "double",
}

// GoType returns the Go type of the parameter on the 32-bit target.
func (p ParameterType) GoType() (string, error) {
	if p.Pointer {
		return "unsafe.Pointer", nil
	}
	if typ, ok := goTypes[p.Type]; ok {
		return typ, nil
	}
	return "", fmt.Errorf("unsupported param type: %v", p.Type)
}

// returnType splits a C return type such as "const uint8_t *" into the base
// type and whether it is a pointer.
func returnType(ctype string) ParameterType {
	ctype = strings.TrimSpace(ctype)
	pointer := strings.HasSuffix(ctype, "*")
	ctype = strings.TrimRight(ctype, " *")
	fields := lo.Filter(strings.Fields(ctype), func(s string, _ int) bool {
		return s != "const" && s != "volatile"
	})
	return ParameterType{Type: strings.Join(fields, " "), Pointer: pointer}
}

// reservedParamNames are names the cgo wrappers cannot use for parameters
// without shadowing an import.
var reservedParamNames = map[string]string{
	"C":      "c_",
	"unsafe": "unsafe_",
}

// sanitizeParamName renames C parameter names that are not usable in the Go
// wrappers.
func sanitizeParamName(name string, i int) string {
	if name == "" {
		return fmt.Sprintf("arg%d", i)
	}
	if replacement, ok := reservedParamNames[name]; ok {
		return replacement
	}
	if token.IsKeyword(name) {
		return name + "_"
	}
	return name
}

// goBinding is the cgo wrapper through which Go code calls one trampoline.
type goBinding struct {
	// Prototype declares the trampoline to cgo using fixed-width C types.
	Prototype string

	// Func is the Go wrapper.
	Func string

	HasPointer bool
}

// cgoArgument converts a Go value to the C type of the parameter.
func cgoArgument(name, typ string) string {
	if typ == "unsafe.Pointer" {
		return name
	}
	return fmt.Sprintf("C.%v(%v)", cTypes[typ], name)
}

func cType(typ string) string {
	if typ == "unsafe.Pointer" {
		return "void *"
	}
	return cTypes[typ] + " "
}

// newGoBinding maps the signature of fn onto Go types for the 32-bit target.
func newGoBinding(fn *Function) (*goBinding, error) {
	var (
		binding goBinding
		decl    strings.Builder
		proto   strings.Builder
		args    = make([]string, len(fn.Parameters))
		names   = make([]string, len(fn.Parameters))
		types   = make([]string, len(fn.Parameters))
	)
	for i, param := range fn.Parameters {
		typ, err := param.GoType()
		if err != nil {
			return nil, newDiagnostic(fn.Position, err, "%v", fn.Name)
		}
		types[i] = typ
		names[i] = sanitizeParamName(param.Name, i)
		args[i] = cgoArgument(names[i], typ)
		binding.HasPointer = binding.HasPointer || param.Pointer
	}

	result := ""
	if ret := returnType(fn.Type); ret.Type != "void" || ret.Pointer {
		typ, err := ret.GoType()
		if err != nil {
			return nil, newDiagnostic(fn.Position, err, "return type of %v", fn.Name)
		}
		binding.HasPointer = binding.HasPointer || ret.Pointer
		result = typ
	}

	decl.WriteString("func ")
	decl.WriteString(fn.Name)
	decl.WriteRune('(')
	for i := range fn.Parameters {
		if i > 0 {
			decl.WriteString(", ")
		}
		decl.WriteString(names[i])
		if i+1 == len(fn.Parameters) || types[i+1] != types[i] {
			decl.WriteRune(' ')
			decl.WriteString(types[i])
		}
	}
	decl.WriteRune(')')
	call := fmt.Sprintf("C.%v(%v)", fn.Name, strings.Join(args, ", "))
	if result == "" {
		decl.WriteString(fmt.Sprintf(" {\n\t%v\n}\n", call))
	} else {
		decl.WriteString(fmt.Sprintf(" %v {\n\treturn %v(%v)\n}\n", result, result, call))
	}
	binding.Func = decl.String()

	if result == "" {
		proto.WriteString("void ")
	} else {
		proto.WriteString(cType(result))
	}
	proto.WriteString(fn.Name)
	proto.WriteRune('(')
	if len(fn.Parameters) == 0 {
		proto.WriteString("void")
	}
	for i := range fn.Parameters {
		if i > 0 {
			proto.WriteString(", ")
		}
		proto.WriteString(cType(types[i]))
		proto.WriteString(names[i])
	}
	proto.WriteString(");")
	binding.Prototype = proto.String()
	return &binding, nil
}

// Emit writes the trampolines as Go assembly under their C symbol names, so
// that C code and the cgo wrappers in <base>_arm.go call them with the C
// calling convention. The renamed implementations go to <base>.bios.c, which
// cgo compiles into the same package.
func (b *GoAsmBackend) Emit(t *TranslateUnit, unit *Unit) ([]GeneratedFile, error) {
	var source strings.Builder
	t.writeHeader(&source, "//")
	source.WriteString(rewriteSource(unit))
	files := []GeneratedFile{{Path: t.path(".bios.c"), Content: []byte(source.String())}}
	if len(unit.Syntheses) == 0 {
		return files, nil
	}

	var (
		assembly   strings.Builder
		wrappers   strings.Builder
		prototypes []string
		hasPointer bool
	)
	assembly.WriteString(goasmBuildTags)
	t.writeHeader(&assembly, "//")
	assembly.WriteString("#include \"textflag.h\"\n")
	for _, synthesis := range unit.Syntheses {
		tr := synthesis.Trampoline
		binding, err := newGoBinding(tr.Signature)
		if err != nil {
			return nil, err
		}
		prototypes = append(prototypes, binding.Prototype)
		hasPointer = hasPointer || binding.HasPointer
		wrappers.WriteRune('\n')
		wrappers.WriteString(binding.Func)

		assembly.WriteString(fmt.Sprintf("\n// %s\n", binding.Prototype))
		assembly.WriteString(fmt.Sprintf("TEXT %v(SB), NOSPLIT|NOFRAME, $0\n", tr.Name))
		for _, inst := range tr.Body {
			assembly.WriteString(fmt.Sprintf("\t%s\n", inst.Plan9()))
		}
	}

	// The trampolines are only referenced from C. Taking their addresses in
	// a table read by Go keeps the linker from dropping them.
	assembly.WriteString("\n")
	for i, synthesis := range unit.Syntheses {
		assembly.WriteString(fmt.Sprintf("DATA %v+%d(SB)/4, $%v(SB)\n", trampolineTableSymbol, i*wordSize, synthesis.Trampoline.Name))
	}
	assembly.WriteString(fmt.Sprintf("GLOBL %v(SB), RODATA, $%d\n", trampolineTableSymbol, len(unit.Syntheses)*wordSize))
	assembly.WriteString("\n// func trampolineTable() uintptr\n")
	assembly.WriteString("TEXT ·trampolineTable(SB), NOSPLIT, $0-4\n")
	assembly.WriteString(fmt.Sprintf("\tMOVW $%v(SB), R0\n", trampolineTableSymbol))
	assembly.WriteString("\tMOVW R0, ret+0(FP)\n")
	assembly.WriteString("\tRET\n")

	var stubs strings.Builder
	stubs.WriteString(goasmBuildTags)
	t.writeHeader(&stubs, "//")
	stubs.WriteString(fmt.Sprintf("package %v\n\n", t.Package))
	stubs.WriteString("/*\n#include <stdint.h>\n\n")
	for _, prototype := range prototypes {
		stubs.WriteString(prototype)
		stubs.WriteRune('\n')
	}
	stubs.WriteString("*/\nimport \"C\"\n")
	if hasPointer {
		stubs.WriteString("\nimport \"unsafe\"\n")
	}
	stubs.WriteString("\nvar _ = trampolineTable()\n\n")
	stubs.WriteString("// trampolineTable returns the address of the trampoline table.\n")
	stubs.WriteString("func trampolineTable() uintptr\n")
	stubs.WriteString(wrappers.String())

	formatted, err := asmfmt.Format(strings.NewReader(assembly.String()))
	if err != nil {
		return nil, err
	}
	return append(files,
		GeneratedFile{Path: t.path("_arm.s"), Content: formatted},
		GeneratedFile{Path: t.path("_arm.go"), Content: []byte(stubs.String())},
	), nil
}

func init() {
	RegisterBackend("goasm", &GoAsmBackend{})
}
