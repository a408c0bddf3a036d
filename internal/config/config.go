package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envOrgID        = "MAILPURGE_ORG_ID"
	envAdminToken   = "MAILPURGE_OAUTH_TOKEN"
	envClientID     = "MAILPURGE_CLIENT_ID"
	envClientSecret = "MAILPURGE_CLIENT_SECRET"
	envAuditBaseURL = "MAILPURGE_AUDIT_BASE_URL"
	envTokenURL     = "MAILPURGE_TOKEN_URL"
	envIMAPAddr     = "MAILPURGE_IMAP_ADDR"
	envSharedBoxes  = "MAILPURGE_SHARED_MAILBOXES"
	envTunablesPath = "MAILPURGE_TUNABLES"
)

// ConfigError marks configuration problems that must stop the run before any
// network call is made.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

// Env holds the platform credentials and endpoints read from environment
// variables.
type Env struct {
	OrgID        string
	AdminToken   string
	ClientID     string
	ClientSecret string
	AuditBaseURL string
	TokenURL     string
	IMAPAddr     string

	// SharedMailboxes are logins added to the recipient set in message-ID
	// mode, since shared mailboxes never appear in To/Cc/Bcc headers.
	SharedMailboxes []string
}

// FromEnv loads the environment configuration, aggregating every missing
// variable into a single ConfigError.
func FromEnv() (Env, error) {
	missing := []string{}
	read := func(name string) string {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			missing = append(missing, name)
		}
		return value
	}

	env := Env{
		OrgID:        read(envOrgID),
		AdminToken:   read(envAdminToken),
		ClientID:     read(envClientID),
		ClientSecret: read(envClientSecret),
		AuditBaseURL: read(envAuditBaseURL),
		TokenURL:     read(envTokenURL),
		IMAPAddr:     read(envIMAPAddr),
	}

	if len(missing) > 0 {
		return Env{}, &ConfigError{
			Reason: "missing required environment variables: " + strings.Join(missing, ", "),
		}
	}

	for _, login := range strings.Split(os.Getenv(envSharedBoxes), ",") {
		login = strings.TrimSpace(login)
		if login == "" {
			continue
		}
		env.SharedMailboxes = append(env.SharedMailboxes, login)
	}

	return env, nil
}

// Tunables groups the knobs whose values differ between the two deletion
// variants. The defaults below are starting points, not contracts; operators
// override them through a YAML file.
type Tunables struct {
	Concurrency        int
	BatchSize          int
	BatchPause         time.Duration
	Stagger            time.Duration
	ChunkSizeBulk      int
	ChunkSizeSingle    int
	ReconnectThreshold int
	KeepaliveEvery     int
	PageSize           int
	ConnectAttempts    int
	ConnectTimeout     time.Duration
	AuthTimeout        time.Duration
}

// UnmarshalYAML decodes the tunables file. Durations are Go duration strings
// ("5s", "700ms"); fields left out keep whatever value the receiver already
// holds, so defaults survive partial overrides.
func (t *Tunables) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Concurrency        *int    `yaml:"concurrency"`
		BatchSize          *int    `yaml:"batch_size"`
		BatchPause         *string `yaml:"batch_pause"`
		Stagger            *string `yaml:"stagger"`
		ChunkSizeBulk      *int    `yaml:"chunk_size_bulk"`
		ChunkSizeSingle    *int    `yaml:"chunk_size_single"`
		ReconnectThreshold *int    `yaml:"reconnect_threshold"`
		KeepaliveEvery     *int    `yaml:"keepalive_every"`
		PageSize           *int    `yaml:"page_size"`
		ConnectAttempts    *int    `yaml:"connect_attempts"`
		ConnectTimeout     *string `yaml:"connect_timeout"`
		AuthTimeout        *string `yaml:"auth_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setDur := func(dst *time.Duration, src *string) error {
		if src == nil {
			return nil
		}
		dur, err := time.ParseDuration(strings.TrimSpace(*src))
		if err != nil {
			return err
		}
		*dst = dur
		return nil
	}

	setInt(&t.Concurrency, raw.Concurrency)
	setInt(&t.BatchSize, raw.BatchSize)
	setInt(&t.ChunkSizeBulk, raw.ChunkSizeBulk)
	setInt(&t.ChunkSizeSingle, raw.ChunkSizeSingle)
	setInt(&t.ReconnectThreshold, raw.ReconnectThreshold)
	setInt(&t.KeepaliveEvery, raw.KeepaliveEvery)
	setInt(&t.PageSize, raw.PageSize)
	setInt(&t.ConnectAttempts, raw.ConnectAttempts)
	for _, pair := range []struct {
		dst *time.Duration
		src *string
	}{
		{&t.BatchPause, raw.BatchPause},
		{&t.Stagger, raw.Stagger},
		{&t.ConnectTimeout, raw.ConnectTimeout},
		{&t.AuthTimeout, raw.AuthTimeout},
	} {
		if err := setDur(pair.dst, pair.src); err != nil {
			return err
		}
	}
	return nil
}

// DefaultTunables returns the values used when no tunables file is provided.
func DefaultTunables() Tunables {
	return Tunables{
		Concurrency:        3,
		BatchSize:          10,
		BatchPause:         5 * time.Second,
		Stagger:            700 * time.Millisecond,
		ChunkSizeBulk:      200,
		ChunkSizeSingle:    50,
		ReconnectThreshold: 400,
		KeepaliveEvery:     25,
		PageSize:           100,
		ConnectAttempts:    3,
		ConnectTimeout:     15 * time.Second,
		AuthTimeout:        20 * time.Second,
	}
}

// LoadTunables reads the optional tunables file named by MAILPURGE_TUNABLES.
// Absent file or variable means defaults; a present but unreadable file is a
// ConfigError since a half-applied override is worse than none.
func LoadTunables() (Tunables, error) {
	path := strings.TrimSpace(os.Getenv(envTunablesPath))
	if path == "" {
		return DefaultTunables(), nil
	}
	return LoadTunablesFile(path)
}

// LoadTunablesFile reads tunables from path, filling unset fields with
// defaults.
func LoadTunablesFile(path string) (Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tunables{}, &ConfigError{Reason: fmt.Sprintf("read tunables %s: %v", path, err)}
	}

	tun := DefaultTunables()
	if err := yaml.Unmarshal(data, &tun); err != nil {
		return Tunables{}, &ConfigError{Reason: fmt.Sprintf("parse tunables %s: %v", path, err)}
	}

	if err := tun.validate(); err != nil {
		return Tunables{}, err
	}
	return tun, nil
}

func (t Tunables) validate() error {
	if t.Concurrency < 1 {
		return &ConfigError{Reason: "concurrency must be at least 1"}
	}
	if t.BatchSize < 1 {
		return &ConfigError{Reason: "batch_size must be at least 1"}
	}
	if t.ChunkSizeBulk < 1 || t.ChunkSizeSingle < 1 {
		return &ConfigError{Reason: "chunk sizes must be at least 1"}
	}
	if t.ConnectAttempts < 1 {
		return &ConfigError{Reason: "connect_attempts must be at least 1"}
	}
	if t.PageSize < 1 {
		return &ConfigError{Reason: "page_size must be at least 1"}
	}
	return nil
}
