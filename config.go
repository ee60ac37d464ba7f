package gomssql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// AuthKind selects the authentication variant for a Config.
type AuthKind string

// Supported authentication variants. Exactly one must be populated.
const (
	AuthSQL          AuthKind = "sql"
	AuthNTLM         AuthKind = "ntlm"
	AuthWindows      AuthKind = "windows"
	AuthAzureAD      AuthKind = "azure_ad"
	AuthAzureADToken AuthKind = "azure_ad_token"
)

// Auth carries the credentials for one authentication variant. Fields not
// belonging to the selected Kind must be left zero.
type Auth struct {
	Kind     AuthKind
	Username string // sql, ntlm, azure_ad
	Password string // sql, ntlm, azure_ad
	Domain   string // ntlm
	Token    string // azure_ad_token

	// TokenProvider defers azure_ad_token acquisition to open time. It is
	// resolved exactly once per Open/Connect call, before any boundary
	// call, and only when Token is empty.
	TokenProvider func(ctx context.Context) (string, error)
}

// PoolConfig tunes the boundary-side connection pool. Tuning fields are
// excluded from the dedup key: callers sharing one logical pool identity may
// carry different tuning, and the first registration's values win.
type PoolConfig struct {
	MinSize     int
	MaxSize     int
	IdleTimeout time.Duration
}

// Config is the normalized connection configuration consumed by the entry
// points. Connection-string parsing happens upstream; this layer receives
// the already-structured form.
type Config struct {
	Server                 string
	Port                   int // default 1433
	Database               string
	Auth                   Auth
	Encrypt                bool
	TrustServerCertificate bool
	ConnectTimeout         time.Duration // default 15s
	RequestTimeout         time.Duration // default 30s, carried per command envelope
	AppName                string        // default "gomssql"
	InstanceName           string
	PacketSize             int // default 4096
	Pool                   *PoolConfig
}

// normalized returns a copy with defaults applied. The copy is what every
// downstream consumer (dedup key, wire form) sees.
func (c Config) normalized() Config {
	if c.Port == 0 {
		c.Port = 1433
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.AppName == "" {
		c.AppName = "gomssql"
	}
	if c.PacketSize == 0 {
		c.PacketSize = 4096
	}
	return c
}

// Validate checks the configuration and aggregates every problem found.
// The returned error wraps ErrInvalidConfig.
func (c Config) Validate() error {
	errs := new(multierror.Error)

	if c.Server == "" {
		errs = multierror.Append(errs, fmt.Errorf("server is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	switch c.Auth.Kind {
	case AuthSQL, AuthAzureAD:
		if c.Auth.Username == "" || c.Auth.Password == "" {
			errs = multierror.Append(errs, fmt.Errorf("auth %q requires username and password", c.Auth.Kind))
		}
		if c.Auth.Domain != "" || c.Auth.Token != "" || c.Auth.TokenProvider != nil {
			errs = multierror.Append(errs, fmt.Errorf("auth %q must not carry domain or token fields", c.Auth.Kind))
		}
	case AuthNTLM:
		if c.Auth.Username == "" || c.Auth.Password == "" || c.Auth.Domain == "" {
			errs = multierror.Append(errs, fmt.Errorf("auth ntlm requires username, password, and domain"))
		}
	case AuthWindows:
		if c.Auth.Username != "" || c.Auth.Password != "" || c.Auth.Token != "" {
			errs = multierror.Append(errs, fmt.Errorf("auth windows must not carry credentials"))
		}
	case AuthAzureADToken:
		if c.Auth.Token == "" && c.Auth.TokenProvider == nil {
			errs = multierror.Append(errs, fmt.Errorf("auth azure_ad_token requires a token or a token provider"))
		}
	case "":
		errs = multierror.Append(errs, fmt.Errorf("auth kind is required"))
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown auth kind %q", c.Auth.Kind))
	}

	if c.Pool != nil {
		if c.Pool.MinSize < 0 || c.Pool.MaxSize < 0 {
			errs = multierror.Append(errs, fmt.Errorf("pool sizes must not be negative"))
		}
		if c.Pool.MaxSize > 0 && c.Pool.MinSize > c.Pool.MaxSize {
			errs = multierror.Append(errs, fmt.Errorf("pool min %d exceeds max %d", c.Pool.MinSize, c.Pool.MaxSize))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// DedupKey returns the canonical pool identity for this configuration.
// Pool tuning and timeouts are deliberately excluded: callers that differ
// only there share one physical pool. Credentials never enter the key.
func (c Config) DedupKey() string {
	c = c.normalized()

	var authKey string
	switch c.Auth.Kind {
	case AuthSQL:
		authKey = "sql|" + c.Auth.Username
	case AuthNTLM:
		authKey = "ntlm|" + c.Auth.Domain + "|" + c.Auth.Username
	case AuthWindows:
		authKey = "windows"
	case AuthAzureAD:
		authKey = "azure_ad|" + c.Auth.Username
	case AuthAzureADToken:
		authKey = "azure_ad_token"
	}

	return fmt.Sprintf("%s|%d|%s|%s|%t|%t|%s|%s|%d",
		strings.ToLower(c.Server),
		c.Port,
		strings.ToLower(c.Database),
		authKey,
		c.Encrypt,
		c.TrustServerCertificate,
		strings.ToLower(c.InstanceName),
		c.AppName,
		c.PacketSize,
	)
}

// resolveAuth resolves a deferred token provider into a concrete token.
// Called once per open, before any boundary call.
func (c Config) resolveAuth(ctx context.Context) (Config, error) {
	if c.Auth.Kind != AuthAzureADToken || c.Auth.Token != "" || c.Auth.TokenProvider == nil {
		return c, nil
	}
	token, err := c.Auth.TokenProvider(ctx)
	if err != nil {
		return c, fmt.Errorf("resolve azure ad token: %w", err)
	}
	c.Auth.Token = token
	return c, nil
}

// Wire form, matching the boundary's expected JSON shape.

type wireAuth struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Token    string `json:"token,omitempty"`
}

type wirePool struct {
	Min           *int   `json:"min"`
	Max           *int   `json:"max"`
	IdleTimeoutMS *int64 `json:"idle_timeout_ms"`
}

type wireConfig struct {
	Server                 string    `json:"server"`
	Port                   int       `json:"port"`
	Database               string    `json:"database"`
	Auth                   wireAuth  `json:"auth"`
	Encrypt                bool      `json:"encrypt"`
	TrustServerCertificate bool      `json:"trust_server_certificate"`
	ConnectTimeoutMS       int64     `json:"connect_timeout_ms"`
	RequestTimeoutMS       int64     `json:"request_timeout_ms"`
	AppName                string    `json:"app_name"`
	InstanceName           *string   `json:"instance_name"`
	PacketSize             int       `json:"packet_size"`
	Pool                   *wirePool `json:"pool"`
}

// marshalWire serializes the (already normalized and resolved) config into
// the boundary's wire form.
func (c Config) marshalWire() ([]byte, error) {
	w := wireConfig{
		Server:                 c.Server,
		Port:                   c.Port,
		Database:               c.Database,
		Auth:                   wireAuth{Type: string(c.Auth.Kind)},
		Encrypt:                c.Encrypt,
		TrustServerCertificate: c.TrustServerCertificate,
		ConnectTimeoutMS:       c.ConnectTimeout.Milliseconds(),
		RequestTimeoutMS:       c.RequestTimeout.Milliseconds(),
		AppName:                c.AppName,
		PacketSize:             c.PacketSize,
	}

	switch c.Auth.Kind {
	case AuthSQL, AuthAzureAD:
		w.Auth.Username = c.Auth.Username
		w.Auth.Password = c.Auth.Password
	case AuthNTLM:
		w.Auth.Username = c.Auth.Username
		w.Auth.Password = c.Auth.Password
		w.Auth.Domain = c.Auth.Domain
	case AuthAzureADToken:
		w.Auth.Token = c.Auth.Token
	}

	if c.InstanceName != "" {
		instance := c.InstanceName
		w.InstanceName = &instance
	}

	if c.Pool != nil {
		wp := &wirePool{}
		if c.Pool.MinSize > 0 {
			m := c.Pool.MinSize
			wp.Min = &m
		}
		if c.Pool.MaxSize > 0 {
			m := c.Pool.MaxSize
			wp.Max = &m
		}
		if c.Pool.IdleTimeout > 0 {
			ms := c.Pool.IdleTimeout.Milliseconds()
			wp.IdleTimeoutMS = &ms
		}
		w.Pool = wp
	}

	return json.Marshal(w)
}
