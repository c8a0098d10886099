// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package elevation

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// secretBuffer holds the cached elevation secret outside the Go heap. The
// region is locked against swap and excluded from core dumps. When the
// kernel refuses (low RLIMIT_MEMLOCK, seccomp) the buffer falls back to a
// heap slice and lockErr reports why.
type secretBuffer struct {
	data   []byte
	mapped bool
}

func newSecretBuffer(source []byte) (buf *secretBuffer, lockErr error) {
	data, err := unix.Mmap(-1, 0, len(source), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return heapSecretBuffer(source), fmt.Errorf("mmap: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		_ = unix.Munmap(data)
		return heapSecretBuffer(source), fmt.Errorf("mlock: %w", err)
	}
	// MADV_DONTDUMP is best effort; the region stays locked without it.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	copy(data, source)
	return &secretBuffer{data: data, mapped: true}, nil
}

func heapSecretBuffer(source []byte) *secretBuffer {
	data := make([]byte, len(source))
	copy(data, source)
	return &secretBuffer{data: data}
}

func (b *secretBuffer) bytes() []byte {
	return b.data
}

// destroy zeroes the secret and releases the mapping. Safe to call twice.
func (b *secretBuffer) destroy() {
	if b == nil || b.data == nil {
		return
	}
	clear(b.data)
	if b.mapped {
		_ = unix.Munlock(b.data)
		_ = unix.Munmap(b.data)
	}
	b.data = nil
}
