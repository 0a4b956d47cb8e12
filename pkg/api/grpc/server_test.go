package grpc

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestNewServerServesHealthAndShutsDown(t *testing.T) {
	s, err := NewServer(&Config{Port: 0, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Start returned %v after graceful stop", err)
	}
}
