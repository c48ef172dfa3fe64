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

// GASBackend emits the renamed implementations as C and the trampolines as a
// separate GNU assembler file, for toolchains that reject naked functions.
type GASBackend struct{}

func (b *GASBackend) Name() string {
	return "gas"
}

func (b *GASBackend) Emit(t *TranslateUnit, unit *Unit) ([]GeneratedFile, error) {
	var source strings.Builder
	t.writeHeader(&source, "//")
	source.WriteString(rewriteSource(unit))
	files := []GeneratedFile{{Path: t.path(".bios.c"), Content: []byte(source.String())}}
	if len(unit.Syntheses) == 0 {
		return files, nil
	}

	var builder strings.Builder
	t.writeHeader(&builder, "@")
	builder.WriteString("\t.syntax unified\n")
	builder.WriteString("\t.text\n")
	for _, synthesis := range unit.Syntheses {
		tr := synthesis.Trampoline
		builder.WriteString("\n")
		if tr.Attributes.Has(AttrARM) {
			builder.WriteString("\t.arm\n")
		}
		builder.WriteString(fmt.Sprintf("\t.global %s\n", tr.Name))
		builder.WriteString(fmt.Sprintf("\t.type %s, %%function\n", tr.Name))
		builder.WriteString("\t.p2align 2\n")
		builder.WriteString(fmt.Sprintf("%s:\n", tr.Name))
		for _, inst := range tr.Body {
			builder.WriteString(fmt.Sprintf("\t%s\n", inst.GNU()))
		}
		// literal pool of the ldr pseudo-instruction, unreachable after the branch
		builder.WriteString("\t.ltorg\n")
		builder.WriteString(fmt.Sprintf("\t.size %s, .-%s\n", tr.Name, tr.Name))
	}
	files = append(files, GeneratedFile{Path: t.path("_shim.S"), Content: []byte(builder.String())})
	return files, nil
}

func init() {
	RegisterBackend("gas", &GASBackend{})
}
