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
	"bytes"
	"go/token"
	"regexp"
	"strings"
)

// Capability is the set of declared capabilities of a function, taken from its
// //bios: directives.
type Capability uint8

const (
	// CapCheckCallsite requests a trampoline through the safety entry.
	CapCheckCallsite Capability = 1 << iota
	// CapNoMangle declares a stable external name the linker resolves as is.
	CapNoMangle
)

func (c Capability) Has(flag Capability) bool {
	return c&flag == flag
}

const (
	directiveCheckCallsite = "check_callsite"
	directiveNoMangle      = "no_mangle"
)

var directiveLine = regexp.MustCompile(`^//bios:(\w*)(.*)$`)

type directive struct {
	Name    string
	Args    string
	HasArgs bool
	Pos     token.Position
	// byte range of the whole line, newline included
	start, end int
}

// parseDirectives collects the //bios: directives in the comment block that
// ends on the line before offset.
func parseDirectives(filename string, src []byte, offset int) ([]directive, error) {
	lineStart := bytes.LastIndexByte(src[:offset], '\n') + 1
	if strings.TrimSpace(string(src[lineStart:offset])) != "" {
		return nil, nil
	}
	var directives []directive
	end := lineStart
	for end > 0 {
		start := bytes.LastIndexByte(src[:end-1], '\n') + 1
		line := strings.TrimSpace(string(src[start:end]))
		if !strings.HasPrefix(line, "//") {
			break
		}
		if matches := directiveLine.FindStringSubmatch(line); matches != nil {
			pos := positionAt(filename, src, start+strings.Index(string(src[start:end]), "//"))
			d := directive{Name: matches[1], Pos: pos, start: start, end: end}
			rest := strings.TrimSpace(matches[2])
			switch {
			case rest == "":
			case strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")"):
				d.Args = rest[1 : len(rest)-1]
				d.HasArgs = true
				if strings.ContainsAny(d.Args, "()") {
					return nil, newDiagnostic(pos, ErrMalformedOptions, "%v", rest)
				}
			default:
				return nil, newDiagnostic(pos, ErrMalformedOptions, "unexpected %q after //bios:%v", rest, d.Name)
			}
			directives = append([]directive{d}, directives...)
		}
		end = start
	}
	return directives, nil
}

// capabilities turns directives into a capability set and the modifier list of
// the check_callsite request.
func capabilities(directives []directive) (Capability, OptionSet, error) {
	var (
		caps    Capability
		options = OptionSet{}
	)
	for _, d := range directives {
		switch d.Name {
		case directiveCheckCallsite:
			caps |= CapCheckCallsite
			set, err := ParseOptions(d.Args)
			if err != nil {
				return 0, nil, &Diagnostic{Pos: d.Pos, Err: err}
			}
			for name := range set {
				options[name] = struct{}{}
			}
		case directiveNoMangle:
			if d.HasArgs {
				return 0, nil, newDiagnostic(d.Pos, ErrMalformedOptions, "no_mangle takes no modifiers")
			}
			caps |= CapNoMangle
		default:
			return 0, nil, newDiagnostic(d.Pos, ErrUnknownDirective, "//bios:%v", d.Name)
		}
	}
	return caps, options, nil
}

// Validate checks that fn may be turned into a trampoline. The trampoline
// loads its target with `ldr ip, =RAW_<name>`, which only works for symbols
// the linker can resolve by exactly the declared name.
func Validate(fn *Function) error {
	if !fn.Capabilities.Has(CapNoMangle) {
		return newDiagnostic(fn.Position, ErrMissingMarker, "%v", fn.Name)
	}
	if fn.Static {
		return newDiagnostic(fn.Position, ErrInternalLinkage, "%v is static", fn.Name)
	}
	return nil
}
