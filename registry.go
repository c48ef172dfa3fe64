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
	"sort"

	"github.com/samber/lo"
)

// ShimRegistry knows which trampolines exist and which shim table slots were
// declared, so with_shim references can be checked before link time.
type ShimRegistry struct {
	trampolines map[string]struct{}
	slots       map[uint64]string
}

func NewShimRegistry() *ShimRegistry {
	return &ShimRegistry{
		trampolines: make(map[string]struct{}),
		slots:       make(map[uint64]string),
	}
}

// Record registers a trampoline synthesized in the current unit.
func (r *ShimRegistry) Record(name string) {
	r.trampolines[name] = struct{}{}
}

// Declare registers slot index of the shim table as dispatching to name.
func (r *ShimRegistry) Declare(index uint64, name string) error {
	if existing, ok := r.slots[index]; ok && existing != name {
		return fmt.Errorf("shim slot %d declared as both %v and %v", index, existing, name)
	}
	r.slots[index] = name
	r.trampolines[name] = struct{}{}
	return nil
}

// Check reports references to trampolines that were neither synthesized nor
// declared, and references whose index is declared for another function.
func (r *ShimRegistry) Check(ref ShimReference) error {
	if declared, ok := r.slots[ref.Index]; ok {
		if declared != ref.Name {
			return newDiagnostic(ref.Pos, ErrUnknownShimSlot, "slot %d is %v, not %v", ref.Index, declared, ref.Name)
		}
		return nil
	}
	if _, ok := r.trampolines[ref.Name]; !ok {
		return newDiagnostic(ref.Pos, ErrUnknownShimSlot, "%v: no trampoline named %v", ref.Slot, ref.Name)
	}
	return nil
}

// Trampolines returns the known trampoline names, sorted.
func (r *ShimRegistry) Trampolines() []string {
	names := lo.Keys(r.trampolines)
	sort.Strings(names)
	return names
}
