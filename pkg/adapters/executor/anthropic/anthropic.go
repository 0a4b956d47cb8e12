// Package anthropic implements the step backend on the Anthropic API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/mbellido/agentpay/pkg/domain"
	"github.com/mbellido/agentpay/pkg/ports"
)

// Backend calls the Anthropic Messages API.
type Backend struct {
	client anthropic.Client
	model  anthropic.Model
	logger *zap.Logger
}

// NewBackend creates an Anthropic step backend.
func NewBackend(apiKey, model string, logger *zap.Logger) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	return &Backend{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
		logger: logger,
	}, nil
}

// Generate runs one Messages call and concatenates the text blocks.
// Transport and API failures are reported as backend degradation; the
// executor's fallback policy decides what happens next.
func (b *Backend) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: int64(req.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrBackendDegraded, req.Role, err)
	}

	b.logger.Debug("anthropic call completed",
		zap.String("role", string(req.Role)),
		zap.String("model", string(resp.Model)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}

	return sb.String(), nil
}
