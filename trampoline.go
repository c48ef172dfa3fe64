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
	"log/slog"
	"strings"
)

// DefaultSafetyEntry is the trusted dispatcher every trampoline jumps through.
// It is defined by the platform runtime, never by biosgen.
const DefaultSafetyEntry = "BiosSafeShim"

// Attribute is the set of structural attributes of an emitted function.
type Attribute uint8

const (
	// AttrNaked marks a body of raw instructions without prologue or epilogue.
	AttrNaked Attribute = 1 << iota
	// AttrARM forces A32 encoding regardless of the unit's default mode.
	AttrARM
)

func (a Attribute) Has(flag Attribute) bool {
	return a&flag == flag
}

func (a Attribute) String() string {
	var names []string
	if a.Has(AttrNaked) {
		names = append(names, "naked")
	}
	if a.Has(AttrARM) {
		names = append(names, "arm")
	}
	return strings.Join(names, "|")
}

// Trampoline is the externally visible dispatcher synthesized for a function.
// The body always ends in a non-returning branch.
type Trampoline struct {
	Name       string
	Target     string
	Attributes Attribute
	Body       []Instruction
	// Signature is the original function; it is only used to type the
	// trampoline, the body never touches named parameters.
	Signature *Function
}

// Synthesis is the output of one check_callsite transformation, in emission
// order: the renamed implementation, then the trampoline.
type Synthesis struct {
	Implementation *Function
	Trampoline     Trampoline
}

// Synthesizer turns validated check_callsite functions into trampolines.
type Synthesizer struct {
	SafetyEntry     string
	StrictModifiers bool
	Logger          *slog.Logger
}

func (s *Synthesizer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Synthesizer) safetyEntry() string {
	if s.SafetyEntry == "" {
		return DefaultSafetyEntry
	}
	return s.SafetyEntry
}

// Synthesize splits fn into its renamed implementation and a trampoline that
// keeps the original name. Nothing is returned on error.
func (s *Synthesizer) Synthesize(fn *Function) (Synthesis, error) {
	if err := Validate(fn); err != nil {
		return Synthesis{}, err
	}
	if unknown := fn.Options.Unknown(); len(unknown) > 0 {
		if s.StrictModifiers {
			return Synthesis{}, newDiagnostic(fn.Position, ErrUnknownModifier, "%v", strings.Join(unknown, ", "))
		}
		s.logger().Warn("ignoring unknown modifiers",
			"function", fn.Name, "modifiers", unknown, "pos", fn.Position.String())
	}
	if fn.Options.Has(ModifierExpand64) && !hasWideParameter(fn) {
		s.logger().Warn("expand64 set on a function without 64-bit parameters",
			"function", fn.Name, "pos", fn.Position.String())
	}

	impl := *fn
	impl.Name = ImplementationName(fn.Name)
	impl.Capabilities &^= CapCheckCallsite
	impl.Options = OptionSet{}

	body := marshal(fn.Options)
	body = append(body,
		Instruction{Op: OpLoadAddress, Rd: IP, Symbol: impl.Name},
		Instruction{Op: OpBranch, Symbol: s.safetyEntry()},
	)
	trampoline := Trampoline{
		Name:       fn.Name,
		Target:     impl.Name,
		Attributes: AttrNaked | AttrARM,
		Body:       body,
		Signature:  fn,
	}
	s.logger().Debug("synthesized trampoline",
		"function", fn.Name, "target", impl.Name, "modifiers", fn.Options.String(),
		"instructions", len(body))
	return Synthesis{Implementation: &impl, Trampoline: trampoline}, nil
}

// String renders the body one GNU instruction per line, for diagnostics.
func (t Trampoline) String() string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%v [%v] -> %v\n", t.Name, t.Attributes, t.Target))
	for _, inst := range t.Body {
		builder.WriteString("\t")
		builder.WriteString(inst.GNU())
		builder.WriteString("\n")
	}
	return builder.String()
}
