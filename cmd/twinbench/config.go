package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/caarlos0/env/v7"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/go-workbench"
	"github.com/go-digitaltwin/go-workbench/memstore"
	"github.com/go-digitaltwin/go-workbench/neo4jstore"
)

// config is read from the environment. Without TWINBENCH_NEO4J_URI the
// real-time command persists twins in memory.
type config struct {
	LogLevel      string `env:"TWINBENCH_LOG_LEVEL"      envDefault:"info"`
	LogFormat     string `env:"TWINBENCH_LOG_FORMAT"     envDefault:"text"`
	Neo4jURI      string `env:"TWINBENCH_NEO4J_URI"`
	Neo4jUser     string `env:"TWINBENCH_NEO4J_USER"     envDefault:"neo4j"`
	Neo4jPassword string `env:"TWINBENCH_NEO4J_PASSWORD"`
	Neo4jDatabase string `env:"TWINBENCH_NEO4J_DATABASE" envDefault:"twinbench"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (cfg config) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch cfg.LogFormat {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: must be text or json", cfg.LogFormat)
	}
}

// persistence opens the configured provider. The returned function releases
// it.
func (cfg config) persistence(ctx context.Context) (workbench.PersistenceProvider, func(context.Context) error, error) {
	if cfg.Neo4jURI == "" {
		return new(memstore.Store), func(context.Context) error { return nil }, nil
	}
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return nil, nil, fmt.Errorf("open neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, nil, fmt.Errorf("connect to neo4j: %w", err)
	}
	if err := neo4jstore.BootstrapDatabase(ctx, driver, cfg.Neo4jDatabase); err != nil {
		_ = driver.Close(ctx)
		return nil, nil, err
	}
	return neo4jstore.New(driver, cfg.Neo4jDatabase), driver.Close, nil
}

type configKey struct{}

func withConfig(ctx context.Context, cfg config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) config {
	cfg, _ := ctx.Value(configKey{}).(config)
	return cfg
}
