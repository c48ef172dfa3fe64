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
	"regexp"
	"strconv"
)

const (
	implementationPrefix = "RAW_"
	shimSlotPrefix       = "SHIM"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// isIdentifier reports whether s is a single C identifier.
func isIdentifier(s string) bool {
	return identifier.MatchString(s)
}

// ImplementationName returns the internal symbol the original body of a
// check_callsite function is moved to. The trampoline keeps the original name.
func ImplementationName(name string) string {
	return implementationPrefix + name
}

// ShimSlotName returns the symbol of slot index of the shim table for base.
// A C identifier never starts with a digit, so the digits before the first
// underscore always decode back to index.
func ShimSlotName(index uint64, base string) string {
	return shimSlotPrefix + strconv.FormatUint(index, 10) + "_" + base
}
