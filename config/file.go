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
	"time"

	"gopkg.in/yaml.v3"
)

// File layout for YAML configuration. Durations are whole seconds,
// matching the environment variable scheme.
type fileSettings struct {
	ListenAddr string                `yaml:"listen_addr"`
	QueryDir   string                `yaml:"query_dir"`
	RowLimit   int                   `yaml:"default_row_limit"`
	CacheTTL   int                   `yaml:"cache_ttl_seconds"`
	Targets    map[string]fileTarget `yaml:"targets"`
}

type fileTarget struct {
	Host           string    `yaml:"host"`
	Port           int       `yaml:"port"`
	User           string    `yaml:"user"`
	Password       string    `yaml:"password"`
	Database       string    `yaml:"database"`
	Driver         string    `yaml:"driver"`
	ConnectTimeout int       `yaml:"connect_timeout_seconds"`
	QueryTimeout   int       `yaml:"query_timeout_seconds"`
	Encrypt        bool      `yaml:"encrypt"`
	TrustCert      bool      `yaml:"trust_server_certificate"`
	Pool           *filePool `yaml:"pool"`
}

type filePool struct {
	MinSize             int `yaml:"min_size"`
	MaxSize             int `yaml:"max_size"`
	IdleTimeout         int `yaml:"idle_timeout_seconds"`
	HealthCheckInterval int `yaml:"health_check_interval_seconds"`
	AcquireTimeout      int `yaml:"acquire_timeout_seconds"`
	MaxLifetime         int `yaml:"max_lifetime_seconds"`
}

// FromFile loads Settings from a YAML file.
func FromFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fs fileSettings
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	s := &Settings{
		Targets:    map[string]Target{},
		Pools:      map[string]Pool{},
		QueryDir:   fs.QueryDir,
		RowLimit:   fs.RowLimit,
		CacheTTL:   secondsOr(fs.CacheTTL, DefaultCacheTTL),
		ListenAddr: fs.ListenAddr,
	}
	if s.QueryDir == "" {
		s.QueryDir = DefaultQueryDir
	}
	if s.RowLimit == 0 {
		s.RowLimit = DefaultRowLimit
	}
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}

	for name, ft := range fs.Targets {
		t := Target{
			Name:           name,
			Host:           ft.Host,
			Port:           ft.Port,
			User:           ft.User,
			Password:       ft.Password,
			Database:       ft.Database,
			Driver:         ft.Driver,
			ConnectTimeout: secondsOr(ft.ConnectTimeout, DefaultConnectTimeout),
			QueryTimeout:   secondsOr(ft.QueryTimeout, DefaultQueryTimeout),
			Encrypt:        ft.Encrypt,
			TrustCert:      ft.TrustCert,
		}
		if t.Port == 0 {
			t.Port = DefaultPort
		}
		if t.Driver == "" {
			t.Driver = DefaultDriver
		}
		s.Targets[name] = t

		p := DefaultPool()
		if fp := ft.Pool; fp != nil {
			if fp.MinSize != 0 {
				p.MinSize = fp.MinSize
			}
			if fp.MaxSize != 0 {
				p.MaxSize = fp.MaxSize
			}
			p.IdleTimeout = secondsOr(fp.IdleTimeout, p.IdleTimeout)
			p.HealthCheckInterval = secondsOr(fp.HealthCheckInterval, p.HealthCheckInterval)
			p.AcquireTimeout = secondsOr(fp.AcquireTimeout, p.AcquireTimeout)
			p.MaxLifetime = secondsOr(fp.MaxLifetime, p.MaxLifetime)
		}
		s.Pools[name] = p
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads configuration from the YAML file when path is non-empty,
// otherwise from the environment.
func Load(path, envFile string) (*Settings, error) {
	if path != "" {
		return FromFile(path)
	}
	return FromEnv(envFile)
}

func secondsOr(v int, fb time.Duration) time.Duration {
	if v == 0 {
		return fb
	}
	return time.Duration(v) * time.Second
}
