// Copyright 2025 SQLGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// DefaultTarget is the reserved target name that must always be configured.
const DefaultTarget = "default"

// aliasRegex is the rule for target names. "default" is reserved but also
// matches.
var aliasRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// Defaults applied when a value is absent from the environment or file.
const (
	DefaultPort            = 1433
	DefaultDriver          = "sqlserver"
	DefaultConnectTimeout  = 30 * time.Second
	DefaultQueryTimeout    = 120 * time.Second
	DefaultPoolMinSize     = 1
	DefaultPoolMaxSize     = 5
	DefaultIdleTimeout     = 300 * time.Second
	DefaultHealthInterval  = 30 * time.Second
	DefaultAcquireTimeout  = 10 * time.Second
	DefaultMaxLifetime     = 3600 * time.Second
	DefaultRowLimit        = 1000
	MaxRowLimit            = 10000
	DefaultCacheTTL        = 60 * time.Second
	DefaultListenAddr      = ":8080"
	DefaultQueryDir        = "query"
)

// Target describes one named database instance. Immutable after load.
type Target struct {
	Name           string
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	Driver         string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	Encrypt        bool
	TrustCert      bool
}

// Pool holds the sizing and retirement settings for one target's
// connection pool.
type Pool struct {
	MinSize             int
	MaxSize             int
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	MaxLifetime         time.Duration
}

// DefaultPool returns the pool settings used when a target configures none.
func DefaultPool() Pool {
	return Pool{
		MinSize:             DefaultPoolMinSize,
		MaxSize:             DefaultPoolMaxSize,
		IdleTimeout:         DefaultIdleTimeout,
		HealthCheckInterval: DefaultHealthInterval,
		AcquireTimeout:      DefaultAcquireTimeout,
		MaxLifetime:         DefaultMaxLifetime,
	}
}

// Settings is the full gateway configuration: every target, its pool
// settings, and the process-wide knobs.
type Settings struct {
	Targets  map[string]Target
	Pools    map[string]Pool
	QueryDir string
	RowLimit int
	CacheTTL time.Duration

	ListenAddr string
}

// ValidateAlias checks a target name against the alias rule.
func ValidateAlias(name string) error {
	if !aliasRegex.MatchString(name) {
		return fmt.Errorf("invalid target name %q: must match [A-Za-z][A-Za-z0-9_]{0,63}", name)
	}
	return nil
}

// Validate checks a loaded Settings for consistency.
func (s *Settings) Validate() error {
	if _, ok := s.Targets[DefaultTarget]; !ok {
		return fmt.Errorf("configuration must include a %q target", DefaultTarget)
	}
	for name, t := range s.Targets {
		if err := ValidateAlias(name); err != nil {
			return err
		}
		if t.Host == "" {
			return fmt.Errorf("target %q: host is required", name)
		}
		if t.User == "" {
			return fmt.Errorf("target %q: user is required", name)
		}
		if t.Database == "" {
			return fmt.Errorf("target %q: database is required", name)
		}
		if t.Port <= 0 || t.Port > 65535 {
			return fmt.Errorf("target %q: port %d out of range", name, t.Port)
		}
	}
	for name, p := range s.Pools {
		if p.MinSize < 0 {
			return fmt.Errorf("pool %q: min_size cannot be negative", name)
		}
		if p.MaxSize < 1 {
			return fmt.Errorf("pool %q: max_size must be at least 1", name)
		}
		if p.MinSize > p.MaxSize {
			return fmt.Errorf("pool %q: min_size (%d) cannot exceed max_size (%d)", name, p.MinSize, p.MaxSize)
		}
	}
	if s.RowLimit < 1 || s.RowLimit > MaxRowLimit {
		return fmt.Errorf("default row limit %d out of range [1, %d]", s.RowLimit, MaxRowLimit)
	}
	return nil
}

// PoolFor returns the pool settings for a target, falling back to the
// defaults when none were configured.
func (s *Settings) PoolFor(name string) Pool {
	if p, ok := s.Pools[name]; ok {
		return p
	}
	return DefaultPool()
}

// DSN builds the driver-specific data source name for the target.
func (t Target) DSN() string {
	switch t.Driver {
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=%ds&multiStatements=false",
			t.User, t.Password, t.Host, t.Port, t.Database,
			int(t.ConnectTimeout.Seconds()))
	case "postgres":
		ssl := "disable"
		if t.Encrypt {
			ssl = "require"
		}
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s connect_timeout=%d sslmode=%s",
			t.Host, t.Port, t.User, t.Password, t.Database,
			int(t.ConnectTimeout.Seconds()), ssl)
	default:
		q := url.Values{}
		q.Set("database", t.Database)
		q.Set("connection timeout", strconv.Itoa(int(t.ConnectTimeout.Seconds())))
		if t.Encrypt {
			q.Set("encrypt", "true")
		}
		if t.TrustCert {
			q.Set("trustservercertificate", "true")
		}
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(t.User, t.Password),
			Host:     fmt.Sprintf("%s:%d", t.Host, t.Port),
			RawQuery: q.Encode(),
		}
		return u.String()
	}
}

// Redacted returns a copy of the target safe for logs and API responses.
func (t Target) Redacted() Target {
	t.Password = ""
	return t
}
