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
	"go/token"
	"regexp"
	"strconv"
	"strings"
)

// shimMacro is the call form rewritten into a shim table reference.
const shimMacro = "with_shim"

var intLiteral = regexp.MustCompile(`^(0[xX][0-9a-fA-F]+|0[bB][01]+|[0-9]+)([uU]?[lL]{0,2}|[lL]{1,2}[uU])$`)

// ShimReference is one with_shim call site.
type ShimReference struct {
	Index uint64
	Name  string
	Slot  string
	Args  []string
	Pos   token.Position
}

// ExpandShimReferences rewrites every with_shim(index, name, args...) call in
// src into SHIM<index>_<name>(args...). Arguments are forwarded in order as
// written; comments, literals and preprocessor directives are left
// untouched.
func ExpandShimReferences(filename string, src []byte) ([]byte, []ShimReference, error) {
	e := &shimExpander{filename: filename, src: src}
	out, err := e.expand(0, len(src))
	if err != nil {
		return nil, nil, err
	}
	return []byte(out), e.refs, nil
}

type shimExpander struct {
	filename string
	src      []byte
	refs     []ShimReference
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// skipLiteral returns the offset just past the comment, string or character
// literal starting at i, or i if there is none.
func (e *shimExpander) skipLiteral(i, end int) int {
	src := e.src
	switch {
	case src[i] == '/' && i+1 < end && src[i+1] == '/':
		for i < end && src[i] != '\n' {
			i++
		}
		return i
	case src[i] == '/' && i+1 < end && src[i+1] == '*':
		i += 2
		for i+1 < end && !(src[i] == '*' && src[i+1] == '/') {
			i++
		}
		return min(i+2, end)
	case src[i] == '"' || src[i] == '\'':
		quote := src[i]
		i++
		for i < end && src[i] != quote && src[i] != '\n' {
			if src[i] == '\\' {
				i++
			}
			i++
		}
		return min(i+1, end)
	}
	return i
}

// skipDirective returns the offset of the end of the preprocessor directive
// starting at i, or i if there is none. Continuation lines belong to the
// directive.
func (e *shimExpander) skipDirective(i, end int) int {
	src := e.src
	if src[i] != '#' {
		return i
	}
	for j := i - 1; j >= 0 && src[j] != '\n'; j-- {
		if src[j] != ' ' && src[j] != '\t' {
			return i
		}
	}
	for i < end && !(src[i] == '\n' && src[i-1] != '\\') {
		i++
	}
	return i
}

func (e *shimExpander) expand(start, end int) (string, error) {
	var builder strings.Builder
	for i := start; i < end; {
		if next := e.skipDirective(i, end); next != i {
			builder.Write(e.src[i:next])
			i = next
			continue
		}
		if next := e.skipLiteral(i, end); next != i {
			builder.Write(e.src[i:next])
			i = next
			continue
		}
		c := e.src[i]
		if !isIdentStart(c) || (i > start && isIdentChar(e.src[i-1])) {
			builder.WriteByte(c)
			i++
			continue
		}
		j := i
		for j < end && isIdentChar(e.src[j]) {
			j++
		}
		if string(e.src[i:j]) != shimMacro {
			builder.Write(e.src[i:j])
			i = j
			continue
		}
		open := j
		for open < end && (e.src[open] == ' ' || e.src[open] == '\t' || e.src[open] == '\n' || e.src[open] == '\r') {
			open++
		}
		if open >= end || e.src[open] != '(' {
			builder.Write(e.src[i:j])
			i = j
			continue
		}
		call, next, err := e.expandCall(i, open, end)
		if err != nil {
			return "", err
		}
		builder.WriteString(call)
		i = next
	}
	return builder.String(), nil
}

// splitArguments returns the byte ranges of the top-level arguments of the
// call whose opening parenthesis is at open, and the offset past the closing
// parenthesis.
func (e *shimExpander) splitArguments(open, end int) ([][2]int, int, bool) {
	var (
		spans [][2]int
		depth int
		from  = open + 1
	)
	for i := open + 1; i < end; {
		if next := e.skipLiteral(i, end); next != i {
			i = next
			continue
		}
		switch e.src[i] {
		case '(', '[', '{':
			depth++
		case ']', '}':
			depth--
		case ')':
			if depth == 0 {
				spans = append(spans, [2]int{from, i})
				return spans, i + 1, true
			}
			depth--
		case ',':
			if depth == 0 {
				spans = append(spans, [2]int{from, i})
				from = i + 1
			}
		}
		i++
	}
	return nil, end, false
}

// trimmed returns the argument text and the offset of its first byte.
func (e *shimExpander) trimmed(span [2]int) (string, int) {
	raw := string(e.src[span[0]:span[1]])
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", span[0]
	}
	return text, span[0] + strings.Index(raw, text)
}

func (e *shimExpander) expandCall(at, open, end int) (string, int, error) {
	pos := positionAt(e.filename, e.src, at)
	spans, next, ok := e.splitArguments(open, end)
	if !ok {
		return "", 0, newDiagnostic(pos, ErrMalformedShimIndex, "unterminated %v call", shimMacro)
	}

	index, indexAt := e.trimmed(spans[0])
	if index == "" {
		return "", 0, newDiagnostic(pos, ErrMalformedShimIndex, "missing index")
	}
	match := intLiteral.FindStringSubmatch(index)
	if match == nil {
		return "", 0, newDiagnostic(positionAt(e.filename, e.src, indexAt), ErrMalformedShimIndex, "%q", index)
	}
	value, err := strconv.ParseUint(match[1], 0, 64)
	if err != nil {
		return "", 0, newDiagnostic(positionAt(e.filename, e.src, indexAt), ErrMalformedShimIndex, "%q: %v", index, err)
	}

	if len(spans) < 2 {
		return "", 0, newDiagnostic(pos, ErrMalformedShimTarget, "missing function name")
	}
	name, nameAt := e.trimmed(spans[1])
	if !isIdentifier(name) {
		if name == "" {
			return "", 0, newDiagnostic(pos, ErrMalformedShimTarget, "missing function name")
		}
		return "", 0, newDiagnostic(positionAt(e.filename, e.src, nameAt), ErrMalformedShimTarget, "%q", name)
	}

	ref := ShimReference{Index: value, Name: name, Slot: ShimSlotName(value, name), Pos: pos}
	for i, span := range spans[2:] {
		if text, _ := e.trimmed(span); text == "" {
			return "", 0, newDiagnostic(positionAt(e.filename, e.src, span[0]), ErrMalformedShimArgs, "argument %d of %v", i+1, name)
		}
		arg, err := e.expand(span[0], span[1])
		if err != nil {
			return "", 0, err
		}
		ref.Args = append(ref.Args, strings.TrimSpace(arg))
	}
	e.refs = append(e.refs, ref)
	call := ref.Slot + "(" + strings.Join(ref.Args, ", ") + ")"
	// keep line numbers of the rest of the file stable
	if lost := strings.Count(string(e.src[at:next]), "\n") - strings.Count(call, "\n"); lost > 0 {
		call += strings.Repeat("\n", lost)
	}
	return call, next, nil
}
