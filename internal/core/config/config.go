package config

import (
	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/events"
	redisclient "github.com/trustmesh/gateway/internal/infra/redis"
	"github.com/trustmesh/gateway/internal/infra/storage/postgres"
	"github.com/trustmesh/gateway/internal/infra/validator"
	"github.com/trustmesh/gateway/internal/status"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Validator validator.Config   `yaml:"validator"`
	Status    status.Config      `yaml:"status"`
	Events    events.Config      `yaml:"events"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
	Logging   LoggingConfig      `yaml:"logging"`
	Submit    SubmitConfig       `yaml:"submit"`
	Clients   []ClientConfig     `yaml:"clients"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SubmitConfig holds batch submission limits.
type SubmitConfig struct {
	MaxBatchBytes int `yaml:"max_batch_bytes"`
}

// ClientConfig declares a known submitter: its public key and the
// namespaces it may write. Identity resolution itself (tokens, secret
// storage) is handled outside the gateway.
type ClientConfig struct {
	PublicKey  string   `yaml:"public_key"`
	Namespaces []string `yaml:"namespaces"`
}

// ResourceTypes converts the declared namespace names.
func (c ClientConfig) ResourceTypes() []domain.ResourceType {
	out := make([]domain.ResourceType, 0, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		out = append(out, domain.ResourceType(ns))
	}
	return out
}
