// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

const mebibyte = 1 << 20

// Limits are resource ceilings applied inside a worker before any work.
// Zero values leave the corresponding ceiling unset.
type Limits struct {
	// MemoryMB is the Go runtime soft memory limit.
	MemoryMB int64 `json:"memoryMb,omitempty"`

	// StackMB is the maximum stack size of any goroutine.
	StackMB int64 `json:"stackMb,omitempty"`

	// AddressSpaceMB is the RLIMIT_AS hard ceiling on virtual memory.
	AddressSpaceMB int64 `json:"addressSpaceMb,omitempty"`
}

// IsZero reports whether no ceiling is configured.
func (l Limits) IsZero() bool {
	return l.MemoryMB == 0 && l.StackMB == 0 && l.AddressSpaceMB == 0
}

// ApplyLimits installs the ceilings on the current process.
//
// Description:
//
//	The memory limit makes the garbage collector work harder as the heap
//	approaches it. The stack ceiling turns runaway recursion into a fatal
//	error of this process only. The address space ceiling is enforced by the
//	kernel where supported. Call this once, at worker start.
//
// Outputs:
//   - error: Non-nil if the address space ceiling cannot be set.
func ApplyLimits(l Limits, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if l.MemoryMB > 0 {
		debug.SetMemoryLimit(l.MemoryMB * mebibyte)
	}
	if l.StackMB > 0 {
		debug.SetMaxStack(int(l.StackMB * mebibyte))
	}
	if l.AddressSpaceMB > 0 {
		if err := setAddressSpaceLimit(uint64(l.AddressSpaceMB) * mebibyte); err != nil {
			return fmt.Errorf("setting address space limit: %w", err)
		}
	}
	if !l.IsZero() {
		logger.Debug("resource limits applied",
			slog.Int64("memory_mb", l.MemoryMB),
			slog.Int64("stack_mb", l.StackMB),
			slog.Int64("address_space_mb", l.AddressSpaceMB))
	}
	return nil
}
