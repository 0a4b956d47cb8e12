package executor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mbellido/agentpay/pkg/adapters/executor/anthropic"
	"github.com/mbellido/agentpay/pkg/adapters/executor/static"
	"github.com/mbellido/agentpay/pkg/ports"
)

// BackendConfig holds step backend configuration.
type BackendConfig struct {
	Provider string
	APIKey   string
	Model    string
	Logger   *zap.Logger
}

// NewBackend creates a step backend based on the configured provider.
func NewBackend(cfg *BackendConfig) (ports.StepBackend, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewBackend(cfg.APIKey, cfg.Model, cfg.Logger)
	case "static":
		return static.NewBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported step backend provider: %s", cfg.Provider)
	}
}
