// Package config loads the solverd configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"hackohio/solverd/pkg/driver"
	"hackohio/solverd/pkg/pool"
	"hackohio/solverd/pkg/smt"
)

// Config is the root of solverd.yaml.
type Config struct {
	Solver  SolverConfig  `yaml:"solver"`
	Pool    PoolConfig    `yaml:"pool"`
	Driver  DriverConfig  `yaml:"driver"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

type SolverConfig struct {
	// Flavor is z3, cvc5, bitwuzla or the name of any other executable.
	Flavor string   `yaml:"flavor" validate:"required"`
	Args   []string `yaml:"args"`

	// Routes override the argv per flavor; see driver.NewTemplateRouter.
	Routes map[string][]string `yaml:"routes" validate:"dive,min=1"`
	Params map[string]string   `yaml:"params"`
}

type PoolConfig struct {
	Name            string        `yaml:"name"`
	Size            int           `yaml:"size" validate:"min=1,max=1024"`
	Isolation       string        `yaml:"isolation" validate:"oneof=reset none"`
	QueryTimeout    time.Duration `yaml:"query_timeout" validate:"gte=0"`
	RespawnInterval time.Duration `yaml:"respawn_interval" validate:"gte=0"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
}

type DriverConfig struct {
	AllowedBinaries     []string      `yaml:"allowed_binaries" validate:"dive,required"`
	AllowedBinariesFile string        `yaml:"allowed_binaries_file"`
	StderrTailBytes     int           `yaml:"stderr_tail_bytes" validate:"gte=0"`
	TerminationGrace    time.Duration `yaml:"termination_grace" validate:"gte=0"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout" validate:"gte=0"`
	Dir                 string        `yaml:"dir"`
	Env                 []string      `yaml:"env"`
}

type ServerConfig struct {
	Socket string `yaml:"socket" validate:"required"`
	// MetricsAddr enables the prometheus endpoint, e.g. "127.0.0.1:9464".
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	// MaxBatch caps the number of scripts in one CheckBatch call.
	MaxBatch int               `yaml:"max_batch" validate:"min=1"`
	Features []string          `yaml:"features"`
	Metadata map[string]string `yaml:"metadata"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type TracingConfig struct {
	// Exporter is none, otlp or stdout.
	Exporter     string  `yaml:"exporter" validate:"oneof=none otlp stdout"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" validate:"required_if=Exporter otlp"`
	OTLPInsecure bool    `yaml:"otlp_insecure"`
	SampleRatio  float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Solver: SolverConfig{Flavor: "z3"},
		Pool: PoolConfig{
			Name:            "default",
			Size:            4,
			Isolation:       "reset",
			RespawnInterval: 500 * time.Millisecond,
			DrainTimeout:    30 * time.Second,
		},
		Driver: DriverConfig{
			StderrTailBytes:  8 << 10,
			TerminationGrace: 5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Socket:   "/var/run/solverd/solverd.grpc",
			MaxBatch: 1024,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{Exporter: "none", SampleRatio: 1},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads path on top of Default and validates the result. Keys missing
// from the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints and that the flavor parses.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.Flavor(); err != nil {
		return err
	}
	return nil
}

// Flavor resolves the solver section.
func (c *Config) Flavor() (smt.Flavor, error) {
	f, err := smt.ParseFlavor(c.Solver.Flavor)
	if err != nil {
		return smt.Flavor{}, err
	}
	f.ExtraArgs = append(f.ExtraArgs, c.Solver.Args...)
	return f, nil
}

// SpawnerConfig builds the ExecSpawner configuration.
func (c *Config) SpawnerConfig() driver.Config {
	dc := driver.Config{
		AllowedBinaries:     c.Driver.AllowedBinaries,
		AllowedBinariesFile: c.Driver.AllowedBinariesFile,
		StderrTailBytes:     c.Driver.StderrTailBytes,
		TerminationGrace:    c.Driver.TerminationGrace,
		HandshakeTimeout:    c.Driver.HandshakeTimeout,
		Dir:                 c.Driver.Dir,
		Env:                 c.Driver.Env,
	}
	if len(c.Solver.Routes) > 0 {
		dc.Router = driver.NewTemplateRouter(c.Solver.Routes, c.Solver.Params)
	}
	return dc
}

// PoolOptions builds pool options around spawner. Logger, Registerer and
// TracerProvider are left for the caller.
func (c *Config) PoolOptions(spawner driver.Spawner) (pool.Options, error) {
	flavor, err := c.Flavor()
	if err != nil {
		return pool.Options{}, err
	}
	iso := pool.IsolationReset
	if c.Pool.Isolation == "none" {
		iso = pool.IsolationNone
	}
	return pool.Options{
		Name:            c.Pool.Name,
		Flavor:          flavor,
		Size:            c.Pool.Size,
		Spawner:         spawner,
		Isolation:       iso,
		QueryTimeout:    c.Pool.QueryTimeout,
		RespawnInterval: c.Pool.RespawnInterval,
		DrainTimeout:    c.Pool.DrainTimeout,
	}, nil
}
