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

// Package tools holds the registry of named operations exposed to remote
// callers, together with the policy, rate limits, timeouts and output filters
// applied to every invocation.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	apperrors "remotectl/internal/errors"
)

const redactedValue = "[REDACTED]"

// sensitiveArgs are never logged or shown in approval prompts.
var sensitiveArgs = map[string]bool{
	"secret":   true,
	"password": true,
}

// Permission is the policy decision for a tool.
type Permission int

const (
	PermissionDeny Permission = iota
	PermissionAsk
	PermissionAllow
)

func (p Permission) String() string {
	switch p {
	case PermissionAllow:
		return "allow"
	case PermissionAsk:
		return "ask"
	default:
		return "deny"
	}
}

// Policy configures which tools run freely, which need operator approval
// and which are refused. Deny wins over ask, ask over allow. When Allow is
// non-nil, tools it does not list are denied unless listed in Ask.
type Policy struct {
	Allow map[string]bool
	Ask   map[string]bool
	Deny  map[string]bool
}

// PolicyFromLists builds a policy from name lists. A nil allow list allows
// every tool.
func PolicyFromLists(allow, ask, deny []string) Policy {
	toSet := func(names []string) map[string]bool {
		if names == nil {
			return nil
		}
		set := make(map[string]bool, len(names))
		for _, name := range names {
			set[strings.TrimSpace(name)] = true
		}
		return set
	}
	return Policy{Allow: toSet(allow), Ask: toSet(ask), Deny: toSet(deny)}
}

func (p Policy) permissionFor(name string) Permission {
	switch {
	case p.Deny[name]:
		return PermissionDeny
	case p.Ask[name]:
		return PermissionAsk
	case p.Allow == nil || p.Allow[name]:
		return PermissionAllow
	default:
		return PermissionDeny
	}
}

// Call describes an invocation awaiting approval. Sensitive arguments are
// already redacted.
type Call struct {
	InvocationID string
	Name         string
	Args         map[string]interface{}
}

// Approver decides whether an "ask" tool may run.
type Approver interface {
	Approve(ctx context.Context, call Call) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, call Call) (bool, error)

// Approve calls f(ctx, call).
func (f ApproverFunc) Approve(ctx context.Context, call Call) (bool, error) {
	return f(ctx, call)
}

// InvocationObserver is told about every finished invocation.
type InvocationObserver interface {
	ToolInvoked(tool, outcome string, duration time.Duration)
}

// ToolResult represents the result of a tool execution. On failure Result
// holds the error payload.
type ToolResult struct {
	Function     string
	InvocationID string
	Result       string
	Error        error
}

// ExecuteOptions controls how tool execution is handled.
type ExecuteOptions struct {
	// Force bypasses ask prompts (use only after explicit operator consent).
	// Denied tools stay denied.
	Force bool
}

// Options configures a Registry.
type Options struct {
	Policy     Policy
	RateLimits RateLimitConfig
	Timeouts   TimeoutConfig
	Logger     zerolog.Logger
	Observer   InvocationObserver
	Approver   Approver
}

// Registry holds all available tools with their permissions.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	permissions map[string]Permission
	limiters    map[string]*toolRateLimiter
	closed      bool

	policy     Policy
	rateLimits RateLimitConfig
	timeouts   TimeoutConfig
	logger     zerolog.Logger
	observer   InvocationObserver
	approver   Approver
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		tools:       make(map[string]Tool),
		permissions: make(map[string]Permission),
		limiters:    make(map[string]*toolRateLimiter),
		policy:      opts.Policy,
		rateLimits:  opts.RateLimits,
		timeouts:    opts.Timeouts,
		logger:      opts.Logger,
		observer:    opts.Observer,
		approver:    opts.Approver,
	}
}

// RegisterTool adds a tool. Names must be unique and the tool must support
// this host's API version.
func (r *Registry) RegisterTool(tool Tool) error {
	if tool == nil || strings.TrimSpace(tool.Name()) == "" {
		return fmt.Errorf("tool must have a name")
	}
	name := tool.Name()
	if !tool.CompatibleWith(HostAPIVersion) {
		return fmt.Errorf("%w: %s (version %s)", ErrToolIncompatible, name, tool.Version())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	r.permissions[name] = r.policy.permissionFor(name)
	cooldown := time.Duration(0)
	if r.rateLimits.Cooldowns != nil {
		cooldown = r.rateLimits.Cooldowns[name]
	}
	if limiter := newToolRateLimiter(r.rateLimits.rateFor(name), cooldown); limiter != nil {
		r.limiters[name] = limiter
	}
	return nil
}

// RegisterPlugin registers every tool of plugin.
func (r *Registry) RegisterPlugin(plugin ToolPlugin) error {
	for _, tool := range plugin.Tools() {
		if err := r.RegisterTool(tool); err != nil {
			return fmt.Errorf("plugin %s: %w", plugin.Name(), err)
		}
	}
	r.logger.Debug().
		Str("plugin", plugin.Name()).
		Str("version", plugin.Version()).
		Int("tools", len(plugin.Tools())).
		Msg("Registered tool plugin")
	return nil
}

// SetApprover installs the approver consulted for "ask" tools.
func (r *Registry) SetApprover(approver Approver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approver = approver
}

// SetPermission overrides the policy decision for one tool.
func (r *Registry) SetPermission(name string, perm Permission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	r.permissions[name] = perm
	return nil
}

// Permission returns the current permission of a tool. Unknown tools are denied.
func (r *Registry) Permission(name string) Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if perm, ok := r.permissions[name]; ok {
		return perm
	}
	return PermissionDeny
}

// GetTools returns registered tools sorted by name.
func (r *Registry) GetTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		list = append(list, tool)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// GetToolNames returns a sorted list of all tool names.
func (r *Registry) GetToolNames() []string {
	tools := r.GetTools()
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name())
	}
	return names
}

// OpenAITools returns the registry as OpenAI tool definitions.
func (r *Registry) OpenAITools() []openai.Tool {
	tools := r.GetTools()
	defs := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs the named tool without a deadline of its own.
func (r *Registry) Execute(function string, args map[string]interface{}) *ToolResult {
	return r.ExecuteWithContext(context.Background(), function, args, ExecuteOptions{})
}

// ExecuteWithContext runs the tool through policy, approval, validation,
// rate limiting and the configured timeout.
func (r *Registry) ExecuteWithContext(ctx context.Context, function string, args map[string]interface{}, opts ExecuteOptions) *ToolResult {
	start := time.Now()
	result := &ToolResult{Function: function, InvocationID: uuid.NewString()}
	if args == nil {
		args = map[string]interface{}{}
	}
	logger := r.logger.With().
		Str("tool", function).
		Str("invocation_id", result.InvocationID).
		Logger()

	output, err := r.execute(ctx, logger, result.InvocationID, function, args, opts)
	duration := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = ErrorKind(err)
		result.Error = err
		result.Result = ErrorPayload(err)
		logger.Warn().
			Err(err).
			Str("kind", outcome).
			Dur("duration_ms", duration).
			Msg("Tool invocation failed")
	} else {
		result.Result = output
		logger.Info().
			Dur("duration_ms", duration).
			Int("output_bytes", len(output)).
			Msg("Tool invocation finished")
	}
	if r.observer != nil {
		r.observer.ToolInvoked(function, outcome, duration)
	}
	return result
}

func (r *Registry) execute(ctx context.Context, logger zerolog.Logger, id, function string, args map[string]interface{}, opts ExecuteOptions) (string, error) {
	if r.isClosed() {
		return "", apperrors.Wrap(apperrors.CodeToolExecution, "tool registry is shut down", ErrRegistryClosed)
	}
	tool, exists := r.getTool(function)
	if !exists {
		return "", apperrors.Wrap(apperrors.CodeInvalidArgument,
			fmt.Sprintf("unknown tool %q; available tools: %s", function, strings.Join(r.GetToolNames(), ", ")),
			ErrToolNotFound)
	}

	logger.Debug().Interface("args", RedactArgs(args)).Msg("Tool invocation received")

	switch r.Permission(function) {
	case PermissionDeny:
		return "", NewPermissionError(function, ErrToolNotAllowed)
	case PermissionAsk:
		if !opts.Force {
			approved, err := r.requestApproval(ctx, Call{InvocationID: id, Name: function, Args: RedactArgs(args)})
			if err != nil {
				return "", err
			}
			if !approved {
				return "", NewPermissionError(function, ErrToolDeniedByUser)
			}
		}
	}

	if err := tool.Validate(args); err != nil {
		return "", newInvalidArgumentsError(function, err)
	}

	if err := r.getLimiter(function).Allow(); err != nil {
		return "", apperrors.Wrap(apperrors.CodeRateLimited, fmt.Sprintf("tool %s throttled", function), err)
	}

	if timeout := r.timeouts.TimeoutForTool(function); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := tool.Execute(ctx, args)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !apperrors.HasCode(err, apperrors.CodeTimeout) {
			return "", apperrors.Wrap(apperrors.CodeTimeout, fmt.Sprintf("tool %s timed out", function), err)
		}
		if apperrors.CodeOf(err) == "" {
			return "", NewToolExecutionError(function, "", err)
		}
		return "", err
	}
	return output, nil
}

func (r *Registry) requestApproval(ctx context.Context, call Call) (bool, error) {
	r.mu.RLock()
	approver := r.approver
	r.mu.RUnlock()
	if approver == nil {
		return false, NewPermissionError(call.Name, ErrToolRequiresConfirmation)
	}
	approved, err := approver.Approve(ctx, call)
	if err != nil {
		return false, NewPermissionError(call.Name, fmt.Errorf("%w: %v", ErrToolRequiresConfirmation, err))
	}
	return approved, nil
}

// ExecuteOpenAIToolCall executes an OpenAI tool call payload.
func (r *Registry) ExecuteOpenAIToolCall(ctx context.Context, call openai.ToolCall, opts ExecuteOptions) *ToolResult {
	name := call.Function.Name
	if name == "" {
		err := apperrors.New(apperrors.CodeInvalidArgument, "tool call missing function name")
		return &ToolResult{Function: "unknown_tool", Error: err, Result: ErrorPayload(err)}
	}
	args, err := parseToolArgs(call.Function.Arguments)
	if err != nil {
		invalid := newInvalidArgumentsError(name, err)
		return &ToolResult{Function: name, Error: invalid, Result: ErrorPayload(invalid)}
	}
	return r.ExecuteWithContext(ctx, name, args, opts)
}

// Close stops the rate limiter goroutines. Later calls fail with
// ErrRegistryClosed instead of running without limits.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, limiter := range r.limiters {
		limiter.Stop()
	}
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// RedactArgs returns a copy of args with sensitive values replaced.
func RedactArgs(args map[string]interface{}) map[string]interface{} {
	redacted := make(map[string]interface{}, len(args))
	for key, value := range args {
		if sensitiveArgs[strings.ToLower(key)] {
			redacted[key] = redactedValue
			continue
		}
		redacted[key] = value
	}
	return redacted
}

// MarshalPayload renders a success payload as JSON.
func MarshalPayload(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

func (r *Registry) getTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *Registry) getLimiter(name string) *toolRateLimiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[name]
}
