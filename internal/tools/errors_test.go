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

package tools

import (
	"encoding/json"
	"errors"
	"testing"

	apperrors "remotectl/internal/errors"
)

func TestNewToolExecutionError(t *testing.T) {
	baseErr := errors.New("execution failed")

	tests := []struct {
		name      string
		operation string
		expected  string
	}{
		{name: "with operation", operation: "run", expected: "tool execute_command failed during run: execution failed"},
		{name: "without operation", expected: "tool execute_command failed: execution failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewToolExecutionError("execute_command", tt.operation, baseErr)
			if err.Error() != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, err.Error())
			}
			if !errors.Is(err, baseErr) {
				t.Error("errors.Is should unwrap to base error")
			}
			if err.Code != apperrors.CodeToolExecution {
				t.Errorf("expected code %s, got %s", apperrors.CodeToolExecution, err.Code)
			}
		})
	}
}

func TestNewPermissionError(t *testing.T) {
	err := NewPermissionError("execute_command", ErrToolRequiresConfirmation)

	expected := "permission denied for tool execute_command: tool requires confirmation"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, ErrToolRequiresConfirmation) {
		t.Error("expected errors.Is to match ErrToolRequiresConfirmation")
	}
}

func TestErrorPayload(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{name: "coded", err: apperrors.New(apperrors.CodePrivilegeDenied, "elevation session missing or expired"), kind: "privilege_denied"},
		{name: "wrapped", err: NewPermissionError("x", ErrToolNotAllowed), kind: "permission"},
		{name: "plain", err: errors.New("boom"), kind: "tool_execution"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload struct {
				Error struct {
					Kind    string `json:"kind"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(ErrorPayload(tt.err)), &payload); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if payload.Error.Kind != tt.kind {
				t.Errorf("expected kind %q, got %q", tt.kind, payload.Error.Kind)
			}
			if payload.Error.Message != tt.err.Error() {
				t.Errorf("expected message %q, got %q", tt.err.Error(), payload.Error.Message)
			}
		})
	}

	if ErrorPayload(nil) != "" {
		t.Error("expected empty payload for nil error")
	}
}

func TestErrorConstants(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{name: "ErrToolNotAllowed", err: ErrToolNotAllowed, msg: "tool blocked by policy"},
		{name: "ErrToolRequiresConfirmation", err: ErrToolRequiresConfirmation, msg: "tool requires confirmation"},
		{name: "ErrToolNotFound", err: ErrToolNotFound, msg: "tool not found"},
		{name: "ErrInvalidArguments", err: ErrInvalidArguments, msg: "invalid tool arguments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}
