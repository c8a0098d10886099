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

//go:build !linux

package elevation

import "errors"

var errMemoryLockUnsupported = errors.New("memory locking not supported on this platform")

type secretBuffer struct {
	data []byte
}

func newSecretBuffer(source []byte) (*secretBuffer, error) {
	data := make([]byte, len(source))
	copy(data, source)
	return &secretBuffer{data: data}, errMemoryLockUnsupported
}

func (b *secretBuffer) bytes() []byte {
	return b.data
}

func (b *secretBuffer) destroy() {
	if b == nil || b.data == nil {
		return
	}
	clear(b.data)
	b.data = nil
}
