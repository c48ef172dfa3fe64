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

import "github.com/samber/lo"

// wordSize is the machine word of the 32-bit target in bytes.
const wordSize = 4

// marshalExpand64 moves the second argument register into the third and
// advances the second by one word, so a 64-bit value passed after a handle
// lands in the register pair the BIOS expects.
func marshalExpand64() []Instruction {
	return []Instruction{
		{Op: OpMove, Rd: R2, Rn: R1},
		{Op: OpAddImmediate, Rd: R1, Rn: R1, Imm: wordSize},
	}
}

// marshal returns the register choreography selected by options. It is empty
// unless expand64 is set.
func marshal(options OptionSet) []Instruction {
	if options.Has(ModifierExpand64) {
		return marshalExpand64()
	}
	return nil
}

// hasWideParameter reports whether any parameter occupies two registers.
func hasWideParameter(fn *Function) bool {
	return lo.SomeBy(fn.Parameters, func(p Parameter) bool {
		return p.Size() == 2*wordSize
	})
}
