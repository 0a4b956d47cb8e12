package executor

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mbellido/agentpay/pkg/domain"
	"github.com/mbellido/agentpay/pkg/ports"
)

// Executor dispatches pipeline steps to a backend and enforces the output
// contract. It implements ports.StepExecutor.
type Executor struct {
	backend   ports.StepBackend
	fallbacks map[domain.Role]string
	timeout   time.Duration
	maxTokens int
	logger    *zap.Logger
}

// Config holds executor configuration.
type Config struct {
	Backend ports.StepBackend

	// Fallbacks is the per-role canned output table. Roles missing from the
	// table get a generic fallback derived from the input.
	Fallbacks map[domain.Role]string

	// Timeout bounds each backend call. Zero means no executor-side bound.
	Timeout time.Duration

	MaxTokens int
	Logger    *zap.Logger
}

// New creates an executor. The fallback table defaults to DefaultFallbacks.
func New(cfg *Config) *Executor {
	fallbacks := cfg.Fallbacks
	if fallbacks == nil {
		fallbacks = DefaultFallbacks()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		backend:   cfg.Backend,
		fallbacks: fallbacks,
		timeout:   cfg.Timeout,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Run produces output text for one role. At most one backend attempt is made
// per call; any failure degrades to the role's fallback output.
func (e *Executor) Run(ctx context.Context, role domain.Role, input string) ports.StepResult {
	// The coordinator is a pass-through: it orchestrates, it does not
	// generate.
	if role == domain.RoleCoordinator {
		return ports.StepResult{Output: input, Model: "pass-through"}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	output, err := e.backend.Generate(ctx, ports.GenerateRequest{
		Role:      role,
		System:    systemPrompt(role),
		Input:     framedInput(role, input),
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		e.logger.Warn("step backend degraded, using fallback output",
			zap.String("role", string(role)),
			zap.Error(err))
		return e.degrade(role, input)
	}

	output = strings.TrimSpace(output)
	if output == "" {
		e.logger.Warn("step backend returned empty output, using fallback",
			zap.String("role", string(role)))
		return e.degrade(role, input)
	}
	if output == strings.TrimSpace(input) {
		// An echoing backend carries no information.
		e.logger.Warn("step backend echoed its input, using fallback",
			zap.String("role", string(role)))
		return e.degrade(role, input)
	}

	return ports.StepResult{Output: output}
}

// degrade returns the role's canned output, guaranteed non-empty.
func (e *Executor) degrade(role domain.Role, input string) ports.StepResult {
	output := e.fallbacks[role]
	if output == "" {
		output = genericFallback(input)
	}
	return ports.StepResult{Output: output, Model: "fallback", Degraded: true}
}
