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
	"fmt"
	"go/token"
)

// Diagnostic kinds. Every error reported for a source construct wraps one of
// these, so callers can match with errors.Is.
var (
	ErrMissingMarker       = errors.New("check_callsite functions must also be no_mangle")
	ErrMalformedOptions    = errors.New("malformed modifier list")
	ErrUnknownModifier     = errors.New("unknown modifier")
	ErrUnknownDirective    = errors.New("unknown directive")
	ErrMalformedShimIndex  = errors.New("with_shim index must be an integer literal")
	ErrMalformedShimTarget = errors.New("with_shim target must be a single identifier")
	ErrMalformedShimArgs   = errors.New("with_shim arguments must not be empty")
	ErrUnknownShimSlot     = errors.New("unknown shim slot")
	ErrInternalLinkage     = errors.New("check_callsite functions must have external linkage")
	ErrNameCollision       = errors.New("implementation name already defined")
)

// Diagnostic pins an error kind to a position in a source file.
type Diagnostic struct {
	Pos    token.Position
	Err    error
	Detail string
}

func newDiagnostic(pos token.Position, err error, format string, args ...any) *Diagnostic {
	return &Diagnostic{Pos: pos, Err: err, Detail: fmt.Sprintf(format, args...)}
}

func (d *Diagnostic) Error() string {
	msg := d.Err.Error()
	if d.Detail != "" {
		msg = fmt.Sprintf("%v: %v", msg, d.Detail)
	}
	if !d.Pos.IsValid() {
		if d.Pos.Filename != "" {
			return fmt.Sprintf("%v: error: %v", d.Pos.Filename, msg)
		}
		return "error: " + msg
	}
	return fmt.Sprintf("%v:%v:%v: error: %v", d.Pos.Filename, d.Pos.Line, d.Pos.Column, msg)
}

func (d *Diagnostic) Unwrap() error { return d.Err }

// positionAt converts a byte offset in src into a file position.
func positionAt(filename string, src []byte, offset int) token.Position {
	pos := token.Position{Filename: filename, Offset: offset, Line: 1, Column: 1}
	for i := 0; i < offset && i < len(src); i++ {
		if src[i] == '\n' {
			pos.Line++
			pos.Column = 1
		} else {
			pos.Column++
		}
	}
	return pos
}
