package modem

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	if c.RxBufferSize < 0 || c.RxBufferSize == 1 {
		return fmt.Errorf("receive buffer needs at least two slots, got %d", c.RxBufferSize)
	}
	if c.AttachRetries < 0 {
		return fmt.Errorf("negative attach retries: %d", c.AttachRetries)
	}
	return nil
}

type Config struct {
	Dialer Dialer
	// ATTimeout bounds commands that have no timeout of their own.
	ATTimeout time.Duration
	// InitTimeout bounds the initial probe of the modem in New.
	InitTimeout time.Duration
	// ConnectTimeout bounds the wait for a socket connection result.
	ConnectTimeout time.Duration
	// MaintainInterval is the minimum time between availability polls.
	MaintainInterval time.Duration
	// DrainTimeout bounds each pass that drains pending notifications.
	DrainTimeout time.Duration
	// RxBufferSize is the number of slots of each socket's receive ring.
	RxBufferSize int
	// SkipDNS disables the DNS configuration step of Attach.
	SkipDNS    bool
	DNSServers [2]string
	// AttachRetries is the number of times a failed Attach is repeated.
	AttachRetries    int
	AttachRetryDelay time.Duration
	Logger           *slog.Logger
	// Registerer receives the modem metrics. Metrics are not exported when nil.
	Registerer prometheus.Registerer
}

func (c *Config) setDefaults() {
	if c.ATTimeout == 0 {
		c.ATTimeout = time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 10 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 75 * time.Second
	}
	if c.MaintainInterval == 0 {
		c.MaintainInterval = 500 * time.Millisecond
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 10 * time.Millisecond
	}
	if c.RxBufferSize == 0 {
		c.RxBufferSize = 64
	}
	if c.DNSServers == [2]string{} {
		c.DNSServers = [2]string{"8.8.8.8", "8.8.4.4"}
	}
	if c.AttachRetryDelay == 0 {
		c.AttachRetryDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder for a Config with default settings.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithConnectTimeout(d time.Duration) *ConfigBuilder {
	b.config.ConnectTimeout = d
	return b
}

func (b *ConfigBuilder) WithMaintainInterval(d time.Duration) *ConfigBuilder {
	b.config.MaintainInterval = d
	return b
}

func (b *ConfigBuilder) WithDrainTimeout(d time.Duration) *ConfigBuilder {
	b.config.DrainTimeout = d
	return b
}

func (b *ConfigBuilder) WithRxBufferSize(n int) *ConfigBuilder {
	b.config.RxBufferSize = n
	return b
}

// WithDNS sets the name servers configured at the end of Attach.
func (b *ConfigBuilder) WithDNS(primary, secondary string) *ConfigBuilder {
	b.config.SkipDNS = false
	b.config.DNSServers = [2]string{primary, secondary}
	return b
}

// WithoutDNS keeps the modem's name server settings untouched.
func (b *ConfigBuilder) WithoutDNS() *ConfigBuilder {
	b.config.SkipDNS = true
	return b
}

func (b *ConfigBuilder) WithAttachRetries(n int, delay time.Duration) *ConfigBuilder {
	b.config.AttachRetries = n
	b.config.AttachRetryDelay = delay
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithRegisterer(r prometheus.Registerer) *ConfigBuilder {
	b.config.Registerer = r
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
