package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/trustmesh/gateway/internal/core/config"
	"github.com/trustmesh/gateway/internal/gateway"
	"github.com/trustmesh/gateway/internal/infra/validator"
)

func TestGracefulShutdown(t *testing.T) {
	// In-memory storage and an unreachable validator: the commit feed
	// sits in its reconnect loop, which is enough to exercise startup
	// and shutdown of every component.
	cfg := config.AppConfig{
		Server: config.ServerConfig{Port: 0},
		Validator: validator.Config{
			URL:            "http://localhost:1",
			RequestTimeout: time.Second,
		},
	}

	svc, err := gateway.NewService(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let the feed hit its reconnect path at least once.
	time.Sleep(500 * time.Millisecond)

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := svc.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
