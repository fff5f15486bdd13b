// Package config loads the gateway configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the batchgraph.yaml configuration file.
type Config struct {
	Server        ServerConfig                  `yaml:"server"`
	Engine        EngineConfig                  `yaml:"engine"`
	Schema        SchemaConfig                  `yaml:"schema"`
	Collaborators map[string]CollaboratorConfig `yaml:"collaborators"`
	Log           LogConfig                     `yaml:"log"`
	Metrics       MetricsConfig                 `yaml:"metrics"`
	OTel          OTelConfig                    `yaml:"otel"`
}

// ServerConfig configures the GraphQL HTTP endpoint.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Pretty          bool          `yaml:"pretty"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	MetadataHeaders []string      `yaml:"metadata_headers"`
	Introspection   bool          `yaml:"introspection"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EngineConfig bounds request execution.
type EngineConfig struct {
	MaxDepth             int           `yaml:"max_depth"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	BatchTimeout         time.Duration `yaml:"batch_timeout"`
	MaxConcurrentFlushes int           `yaml:"max_concurrent_flushes"`
}

// SchemaConfig lists SDL files composed into one schema.
type SchemaConfig struct {
	Files []string `yaml:"files"`
}

// CollaboratorConfig locates one collaborator service.
type CollaboratorConfig struct {
	Endpoints  []string      `yaml:"endpoints"`
	MaxConns   int           `yaml:"max_conns"`
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type OTelConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a YAML configuration file. Relative schema paths are resolved
// against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for i, f := range c.Schema.Files {
		if !filepath.IsAbs(f) {
			c.Schema.Files[i] = filepath.Join(dir, f)
		}
	}
	return c, nil
}

// Parse decodes YAML and fills defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Engine.MaxDepth == 0 {
		c.Engine.MaxDepth = 12
	}
	if c.Engine.RequestTimeout == 0 {
		c.Engine.RequestTimeout = 10 * time.Second
	}
	for name, cc := range c.Collaborators {
		if cc.MaxConns == 0 {
			cc.MaxConns = 2
		}
		if cc.RPCTimeout == 0 {
			cc.RPCTimeout = 3 * time.Second
		}
		c.Collaborators[name] = cc
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = "batchgraph"
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Schema.Files) == 0 {
		errs = append(errs, errors.New("schema.files: at least one file is required"))
	}
	for _, f := range c.Schema.Files {
		if _, err := os.Stat(f); err != nil {
			errs = append(errs, fmt.Errorf("schema.files: %w", err))
		}
	}
	if c.Engine.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("engine.max_depth: must not be negative, got %d", c.Engine.MaxDepth))
	}
	if c.Engine.MaxConcurrentFlushes < 0 {
		errs = append(errs, fmt.Errorf("engine.max_concurrent_flushes: must not be negative, got %d", c.Engine.MaxConcurrentFlushes))
	}
	if c.Engine.RequestTimeout < 0 || c.Engine.BatchTimeout < 0 {
		errs = append(errs, errors.New("engine: timeouts must not be negative"))
	}
	for _, name := range c.CollaboratorNames() {
		cc := c.Collaborators[name]
		if len(cc.Endpoints) == 0 {
			errs = append(errs, fmt.Errorf("collaborators.%s: no endpoints", name))
		}
		if cc.MaxConns < 0 {
			errs = append(errs, fmt.Errorf("collaborators.%s.max_conns: must not be negative", name))
		}
	}
	if _, ok := levels[c.Log.Level]; !ok {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

var levels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {}, "fatal": {}, "panic": {}, "disabled": {},
}

// CollaboratorNames returns configured collaborator ids in sorted order.
func (c *Config) CollaboratorNames() []string {
	names := make([]string, 0, len(c.Collaborators))
	for n := range c.Collaborators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Endpoints maps collaborator ids to their endpoints.
func (c *Config) Endpoints() map[string][]string {
	out := make(map[string][]string, len(c.Collaborators))
	for n, cc := range c.Collaborators {
		out[n] = cc.Endpoints
	}
	return out
}
