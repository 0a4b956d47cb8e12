package static

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mbellido/agentpay/pkg/domain"
	"github.com/mbellido/agentpay/pkg/ports"
)

func TestGenerateProducesRoleFlavoredOutput(t *testing.T) {
	b := NewBackend()
	out, err := b.Generate(context.Background(), ports.GenerateRequest{Role: domain.RoleResearcher, Input: "landing page"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(out, "landing page") {
		t.Errorf("output %q does not mention the input", out)
	}
}

func TestGenerateTruncatesOnRuneBoundary(t *testing.T) {
	b := NewBackend()
	out, err := b.Generate(context.Background(), ports.GenerateRequest{Role: domain.RoleWriter, Input: strings.Repeat("ñ", 90)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !utf8.ValidString(out) {
		t.Errorf("output is not valid UTF-8: %q", out)
	}
	if want := strings.Repeat("ñ", 60) + "..."; !strings.Contains(out, want) {
		t.Errorf("output %q does not keep the first 60 runes", out)
	}
}

func TestGenerateHonorsCancelledContext(t *testing.T) {
	b := NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Generate(ctx, ports.GenerateRequest{Role: domain.RoleAnalyst, Input: "x"})
	if !errors.Is(err, domain.ErrBackendDegraded) {
		t.Errorf("err = %v, want ErrBackendDegraded", err)
	}
}
