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
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// FromEnv builds Settings from environment variables. If envFile is
// non-empty and exists it is loaded first without overriding variables
// already set in the process environment.
//
// The default target reads DB_HOST, DB_PORT, DB_USER, DB_PASSWORD,
// DB_DATABASE, DB_DRIVER, DB_ENCRYPT and DB_TRUST_CERT. Additional
// targets are named in DB_DATABASES (comma separated) and read
// DB_<NAME>_HOST and friends, with the name uppercased. Fields absent
// for a named target fall back to the default target's values, so a
// second database on the same server only needs DB_<NAME>_DATABASE.
func FromEnv(envFile string) (*Settings, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	base, err := targetFromEnv(DefaultTarget, "DB", Target{
		Port:           DefaultPort,
		Driver:         DefaultDriver,
		ConnectTimeout: DefaultConnectTimeout,
		QueryTimeout:   DefaultQueryTimeout,
	})
	if err != nil {
		return nil, err
	}

	s := &Settings{
		Targets:    map[string]Target{DefaultTarget: base},
		Pools:      map[string]Pool{},
		QueryDir:   envString("DB_QUERY_DIR", DefaultQueryDir),
		RowLimit:   DefaultRowLimit,
		CacheTTL:   DefaultCacheTTL,
		ListenAddr: envString("GATEWAY_LISTEN_ADDR", DefaultListenAddr),
	}
	if v, err := envInt("DB_ROW_LIMIT", DefaultRowLimit); err != nil {
		return nil, err
	} else {
		s.RowLimit = v
	}
	if v, err := envSeconds("DB_CACHE_TTL", DefaultCacheTTL); err != nil {
		return nil, err
	} else {
		s.CacheTTL = v
	}

	pool, err := poolFromEnv("DB_POOL", DefaultPool())
	if err != nil {
		return nil, err
	}
	s.Pools[DefaultTarget] = pool

	for _, name := range splitList(os.Getenv("DB_DATABASES")) {
		if name == DefaultTarget {
			continue
		}
		if err := ValidateAlias(name); err != nil {
			return nil, err
		}
		prefix := "DB_" + strings.ToUpper(name)
		t, err := targetFromEnv(name, prefix, base)
		if err != nil {
			return nil, err
		}
		s.Targets[name] = t
		p, err := poolFromEnv(prefix+"_POOL", pool)
		if err != nil {
			return nil, err
		}
		s.Pools[name] = p
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// targetFromEnv reads one target's variables, falling back to fb for
// anything unset.
func targetFromEnv(name, prefix string, fb Target) (Target, error) {
	t := fb
	t.Name = name
	t.Host = envString(prefix+"_HOST", fb.Host)
	t.User = envString(prefix+"_USER", fb.User)
	t.Password = envString(prefix+"_PASSWORD", fb.Password)
	t.Database = envString(prefix+"_DATABASE", fb.Database)
	t.Driver = envString(prefix+"_DRIVER", fb.Driver)

	var err error
	if t.Port, err = envInt(prefix+"_PORT", fb.Port); err != nil {
		return t, err
	}
	if t.ConnectTimeout, err = envSeconds(prefix+"_CONNECT_TIMEOUT", fb.ConnectTimeout); err != nil {
		return t, err
	}
	if t.QueryTimeout, err = envSeconds(prefix+"_QUERY_TIMEOUT", fb.QueryTimeout); err != nil {
		return t, err
	}
	if t.Encrypt, err = envBool(prefix+"_ENCRYPT", fb.Encrypt); err != nil {
		return t, err
	}
	if t.TrustCert, err = envBool(prefix+"_TRUST_CERT", fb.TrustCert); err != nil {
		return t, err
	}
	return t, nil
}

func poolFromEnv(prefix string, fb Pool) (Pool, error) {
	p := fb
	var err error
	if p.MinSize, err = envInt(prefix+"_MIN_SIZE", fb.MinSize); err != nil {
		return p, err
	}
	if p.MaxSize, err = envInt(prefix+"_MAX_SIZE", fb.MaxSize); err != nil {
		return p, err
	}
	if p.IdleTimeout, err = envSeconds(prefix+"_IDLE_TIMEOUT", fb.IdleTimeout); err != nil {
		return p, err
	}
	if p.HealthCheckInterval, err = envSeconds(prefix+"_HEALTH_CHECK_INTERVAL", fb.HealthCheckInterval); err != nil {
		return p, err
	}
	if p.AcquireTimeout, err = envSeconds(prefix+"_ACQUIRE_TIMEOUT", fb.AcquireTimeout); err != nil {
		return p, err
	}
	if p.MaxLifetime, err = envSeconds(prefix+"_MAX_LIFETIME", fb.MaxLifetime); err != nil {
		return p, err
	}
	return p, nil
}

func envString(key, fb string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fb
}

func envInt(key string, fb int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fb, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

// envSeconds reads a duration expressed as whole seconds.
func envSeconds(key string, fb time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fb, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number of seconds", key, v)
	}
	return time.Duration(n) * time.Second, nil
}

func envBool(key string, fb bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fb, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %q is not a boolean", key, v)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
