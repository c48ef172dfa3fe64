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

import "fmt"

// Register is an ARM core register used by trampolines.
type Register int

const (
	R0 Register = iota
	R1
	R2
	R3
	IP // r12, the intra-procedure-call scratch register
)

func (r Register) String() string {
	if r == IP {
		return "ip"
	}
	return fmt.Sprintf("r%d", int(r))
}

// Plan9 returns the Go assembler name of the register.
func (r Register) Plan9() string {
	if r == IP {
		return "R12"
	}
	return fmt.Sprintf("R%d", int(r))
}

type Opcode int

const (
	// OpLoadAddress loads the address of Symbol into Rd through a literal pool.
	OpLoadAddress Opcode = iota
	// OpBranch jumps to Symbol without linking.
	OpBranch
	// OpMove copies Rn into Rd.
	OpMove
	// OpAddImmediate adds Imm to Rn and stores the sum in Rd.
	OpAddImmediate
)

// Instruction is one raw A32 instruction of a trampoline body.
type Instruction struct {
	Op     Opcode
	Rd, Rn Register
	Imm    int
	Symbol string
}

// GNU renders the instruction in GNU assembler (unified) syntax.
func (i Instruction) GNU() string {
	switch i.Op {
	case OpLoadAddress:
		return fmt.Sprintf("ldr %v, =%v", i.Rd, i.Symbol)
	case OpBranch:
		return fmt.Sprintf("b %v", i.Symbol)
	case OpMove:
		return fmt.Sprintf("mov %v, %v", i.Rd, i.Rn)
	case OpAddImmediate:
		return fmt.Sprintf("add %v, %v, #%d", i.Rd, i.Rn, i.Imm)
	default:
		panic(fmt.Sprintf("unknown opcode %d", i.Op))
	}
}

// Plan9 renders the instruction in Go assembler syntax. Symbols are C symbols
// and therefore carry no package qualifier.
func (i Instruction) Plan9() string {
	switch i.Op {
	case OpLoadAddress:
		return fmt.Sprintf("MOVW $%v(SB), %v", i.Symbol, i.Rd.Plan9())
	case OpBranch:
		return fmt.Sprintf("B %v(SB)", i.Symbol)
	case OpMove:
		return fmt.Sprintf("MOVW %v, %v", i.Rn.Plan9(), i.Rd.Plan9())
	case OpAddImmediate:
		if i.Rd == i.Rn {
			return fmt.Sprintf("ADD $%d, %v", i.Imm, i.Rd.Plan9())
		}
		return fmt.Sprintf("ADD $%d, %v, %v", i.Imm, i.Rn.Plan9(), i.Rd.Plan9())
	default:
		panic(fmt.Sprintf("unknown opcode %d", i.Op))
	}
}

func (i Instruction) String() string {
	return i.GNU()
}
