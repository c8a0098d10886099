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
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "remotectl/internal/errors"
)

type staticValidator struct {
	valid bool
	calls int
}

func (s *staticValidator) IsValid() bool {
	s.calls++
	return s.valid
}

func TestGateCheck(t *testing.T) {
	cases := []struct {
		name              string
		requiresElevation bool
		valid             bool
		wantAllowed       bool
		wantConsulted     bool
	}{
		{"unprivileged with no session", false, false, true, false},
		{"unprivileged with session", false, true, true, false},
		{"privileged with session", true, true, true, true},
		{"privileged without session", true, false, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validator := &staticValidator{valid: tc.valid}
			decision := NewGate(validator).Check(tc.requiresElevation)
			assert.Equal(t, tc.wantAllowed, decision.Allowed)
			assert.Equal(t, tc.wantConsulted, validator.calls > 0)
			if tc.wantAllowed {
				assert.NoError(t, decision.Err())
				return
			}
			assert.Equal(t, DenyReason, decision.Reason)
			err := decision.Err()
			assert.True(t, apperrors.HasCode(err, apperrors.CodePrivilegeDenied))
			assert.Contains(t, err.Error(), "missing or expired")
		})
	}
}

func TestGateWithoutVaultDeniesElevation(t *testing.T) {
	gate := NewGate(nil)
	assert.True(t, gate.Check(false).Allowed)
	assert.False(t, gate.Check(true).Allowed)
}
