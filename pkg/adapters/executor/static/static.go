// Package static provides a deterministic step backend for offline demos
// and tests. No network calls are made.
package static

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbellido/agentpay/pkg/domain"
	"github.com/mbellido/agentpay/pkg/ports"
)

// Backend produces a fixed, role-flavored transformation of its input.
type Backend struct{}

// NewBackend creates a static backend.
func NewBackend() *Backend {
	return &Backend{}
}

// Generate returns a deterministic output derived from the input.
func (b *Backend) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackendDegraded, err)
	}

	topic := strings.TrimSpace(req.Input)
	if runes := []rune(topic); len(runes) > 60 {
		topic = string(runes[:60]) + "..."
	}

	switch req.Role {
	case domain.RoleResearcher:
		return fmt.Sprintf("Goal: %s\n- Market is growing and competitive\n- Multi-agent pipelines with escrowed budgets are the differentiator\n- Example: per-task pricing with automatic refunds", topic), nil
	case domain.RoleAnalyst:
		return fmt.Sprintf("Insight: the request boils down to %q\nInsight: cost control is the main buying trigger\nRecommendation: lead with transparent per-step pricing\nConfidence: High", topic), nil
	case domain.RoleWriter:
		return fmt.Sprintf("Title: %s\n- One pipeline, many specialists\n- Escrowed budgets, automatic refunds\nCTA: fund a task and watch it run", topic), nil
	case domain.RoleBuilder:
		return fmt.Sprintf(`<section><h1>%s</h1><p>Built by a paid agent pipeline.</p></section>`, topic), nil
	default:
		return "Processed: " + topic, nil
	}
}
