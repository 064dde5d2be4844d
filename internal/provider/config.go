package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/flowscore/internal/cycle"
	"github.com/danmuck/flowscore/internal/delivery"
	"github.com/danmuck/flowscore/internal/discovery"
	"github.com/danmuck/flowscore/internal/transport"
)

var (
	ErrDocumentRequired         = errors.New("provider: document path required")
	ErrInvalidHeartbeatInterval = errors.New("provider: invalid heartbeat interval")
	ErrRoleRequired             = errors.New("provider: role required")
)

// BrokerConfig selects how the broker endpoint is resolved. URL wins over
// Discover, which wins over Endpoint.
type BrokerConfig struct {
	URL              string
	Endpoint         transport.Endpoint
	Discover         bool
	DiscoveryTimeout time.Duration
}

// ServiceConfig configures one provider process.
type ServiceConfig struct {
	ProviderID        string
	DocumentPath      string
	Role              string
	Broker            BrokerConfig
	Cycle             cycle.Config
	Delivery          delivery.Config
	Transport         transport.Config
	HeartbeatInterval time.Duration
	AdminListenAddr   string
}

// Provider defaults match the reference test provider: localhost broker,
// 4-20 measures per fragment, 0.5-2s pacing, 0.5s fixed retry, forever.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ProviderID: "provider.local",
		Role:       transport.RoleProvider,
		Broker: BrokerConfig{
			Endpoint:         transport.Endpoint{Host: "localhost", Port: 8765, Path: transport.DefaultPath},
			DiscoveryTimeout: discovery.DefaultTimeout,
		},
		Cycle:             cycle.DefaultConfig(),
		Delivery:          delivery.DefaultConfig(),
		Transport:         transport.DefaultConfig(),
		HeartbeatInterval: 30 * time.Second,
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.DocumentPath) == "" {
		return ErrDocumentRequired
	}
	if strings.TrimSpace(c.Role) == "" {
		return ErrRoleRequired
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if err := c.Cycle.Validate(); err != nil {
		return err
	}
	if err := c.Delivery.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Broker.URL) == "" && !c.Broker.Discover {
		if err := c.Broker.Endpoint.Validate(); err != nil {
			return fmt.Errorf("provider: broker: %w", err)
		}
	}
	return nil
}
