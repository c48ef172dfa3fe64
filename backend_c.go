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
	"strings"
)

// CBackend emits a single C file in which each trampoline is a naked A32
// function built from GCC inline assembly.
type CBackend struct{}

func (b *CBackend) Name() string {
	return "c"
}

// cAttributes maps trampoline attributes onto GCC function attributes.
func cAttributes(attrs Attribute) string {
	var names []string
	if attrs.Has(AttrNaked) {
		names = append(names, "naked")
	}
	if attrs.Has(AttrARM) {
		names = append(names, `target("arm")`)
	}
	return fmt.Sprintf("__attribute__((%s))", strings.Join(names, ", "))
}

// writeCTrampoline writes tr as a C function. The body is a single asm
// statement since a naked function may contain nothing else. A literal pool
// follows the final branch.
func writeCTrampoline(builder *strings.Builder, tr Trampoline) {
	builder.WriteString(fmt.Sprintf("\n%s\n%s\n{\n", cAttributes(tr.Attributes), tr.Signature.Signature))
	builder.WriteString("\t__asm__ volatile(\n")
	for _, inst := range tr.Body {
		builder.WriteString(fmt.Sprintf("\t\t\"%s\\n\\t\"\n", inst.GNU()))
	}
	// the literal loaded by ldr ip, = must stay within reach of the load
	builder.WriteString("\t\t\".ltorg\\n\\t\"\n")
	builder.WriteString("\t);\n}\n")
}

func (b *CBackend) Emit(t *TranslateUnit, unit *Unit) ([]GeneratedFile, error) {
	var builder strings.Builder
	t.writeHeader(&builder, "//")
	builder.WriteString(rewriteSource(unit))
	if len(unit.Syntheses) > 0 {
		builder.WriteString("\n// Trampolines\n")
	}
	for _, synthesis := range unit.Syntheses {
		writeCTrampoline(&builder, synthesis.Trampoline)
	}
	return []GeneratedFile{{Path: t.path(".bios.c"), Content: []byte(builder.String())}}, nil
}

func init() {
	RegisterBackend("c", &CBackend{})
}
