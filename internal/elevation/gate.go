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

import apperrors "remotectl/internal/errors"

// Validator reports whether an elevation session is currently valid.
type Validator interface {
	IsValid() bool
}

// Decision is the outcome of a Gate check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err returns nil for an allowed decision and a privilege_denied error otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	reason := d.Reason
	if reason == "" {
		reason = DenyReason
	}
	return apperrors.New(apperrors.CodePrivilegeDenied, reason+"; call authenticate first")
}

// Gate decides whether an operation may proceed given its privilege
// requirement. It holds no state of its own.
type Gate struct {
	vault Validator
}

// NewGate returns a gate backed by vault.
func NewGate(vault Validator) *Gate {
	return &Gate{vault: vault}
}

// Check allows every unprivileged operation and allows privileged ones only
// while the vault holds a valid session.
func (g *Gate) Check(requiresElevation bool) Decision {
	if !requiresElevation {
		return Decision{Allowed: true}
	}
	if g.vault != nil && g.vault.IsValid() {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: DenyReason}
}
