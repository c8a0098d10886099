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
	"fmt"

	apperrors "remotectl/internal/errors"
)

// Common tool errors
var (
	// ErrToolNotAllowed indicates a tool is blocked by the current policy.
	ErrToolNotAllowed = errors.New("tool blocked by policy")

	// ErrToolRequiresConfirmation indicates a tool requires confirmation before running.
	ErrToolRequiresConfirmation = errors.New("tool requires confirmation")

	// ErrToolDeniedByUser indicates the operator denied executing a tool.
	ErrToolDeniedByUser = errors.New("tool execution denied by user")

	// ErrToolNotFound indicates the requested tool doesn't exist in the registry.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArguments indicates tool arguments are invalid or malformed.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrToolRateLimited indicates a tool call exceeded rate limits.
	ErrToolRateLimited = errors.New("tool rate limit exceeded")

	// ErrToolInCooldown indicates a tool is in a cooldown window.
	ErrToolInCooldown = errors.New("tool is in cooldown")

	// ErrRegistryClosed indicates the registry was closed.
	ErrRegistryClosed = errors.New("tool registry closed")

	// ErrToolIncompatible indicates a tool does not support this host API version.
	ErrToolIncompatible = errors.New("tool incompatible with host")
)

// NewToolExecutionError wraps a tool execution error with a shared error code.
func NewToolExecutionError(toolName, operation string, err error) *apperrors.Error {
	if operation != "" {
		return apperrors.Wrap(apperrors.CodeToolExecution, fmt.Sprintf("tool %s failed during %s", toolName, operation), err)
	}
	return apperrors.Wrap(apperrors.CodeToolExecution, fmt.Sprintf("tool %s failed", toolName), err)
}

// NewPermissionError wraps a policy error with a shared error code.
func NewPermissionError(toolName string, reason error) *apperrors.Error {
	return apperrors.Wrap(apperrors.CodePermission, fmt.Sprintf("permission denied for tool %s", toolName), reason)
}

func newInvalidArgumentsError(toolName string, err error) *apperrors.Error {
	return apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("invalid arguments for tool %s", toolName),
		fmt.Errorf("%w: %v", ErrInvalidArguments, err))
}

// ErrorKind returns the wire kind for err. Uncoded errors are tool_execution.
func ErrorKind(err error) string {
	if code := apperrors.CodeOf(err); code != "" {
		return string(code)
	}
	return string(apperrors.CodeToolExecution)
}

type errorPayload struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorPayload renders err as {"error":{"kind":...,"message":...}}.
func ErrorPayload(err error) string {
	if err == nil {
		return ""
	}
	data, marshalErr := json.Marshal(errorPayload{Error: errorBody{Kind: ErrorKind(err), Message: err.Error()}})
	if marshalErr != nil {
		return fmt.Sprintf(`{"error":{"kind":%q,"message":%q}}`, ErrorKind(err), err.Error())
	}
	return string(data)
}
