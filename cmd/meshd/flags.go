package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/norpie/constellation/internal/infra/confloader"
	"github.com/norpie/constellation/internal/server/config"
)

// overrideFlags maps flag names to the config keys they override.
var overrideFlags = map[string]string{
	"identity":   "node.identity",
	"mesh":       "node.mesh",
	"raft-bind":  "raft.bind",
	"join":       "join.address",
	"data-dir":   "storage.data_dir",
	"log-level":  "log.level",
	"log-format": "log.format",
	"admin-addr": "admin.addr",
}

func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the YAML configuration file",
			EnvVars: []string{"CONSTELLATION_CONFIG"},
		},
		&cli.StringFlag{Name: "identity", Usage: "hosted service identity (name.version)"},
		&cli.StringFlag{Name: "mesh", Usage: "mesh name"},
		&cli.StringSliceFlag{Name: "listen", Usage: "mesh endpoint to listen on (kind://address), repeatable"},
		&cli.StringFlag{Name: "raft-bind", Usage: "consensus bind address"},
		&cli.StringFlag{Name: "join", Usage: "address of any mesh member; empty bootstraps"},
		&cli.StringFlag{Name: "data-dir", Usage: "directory for the raft log and snapshots"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "log-format", Usage: "json or text"},
		&cli.StringFlag{Name: "admin-addr", Usage: "admin API listen address"},
	}
}

// overrides collects the flags that were explicitly set.
func overrides(c *cli.Context) map[string]any {
	values := make(map[string]any)
	for flag, key := range overrideFlags {
		if c.IsSet(flag) {
			values[key] = c.String(flag)
		}
	}
	return values
}

// loadConfig builds the effective configuration: defaults, file,
// environment, flags.
func loadConfig(c *cli.Context) (*config.ServerConfig, *confloader.Loader, error) {
	cfg := config.Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(c.String("config")),
		confloader.WithOverrides(overrides(c)),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, nil, err
	}
	if c.IsSet("listen") {
		cfg.Listen = cfg.Listen[:0]
		for _, ep := range c.StringSlice("listen") {
			cfg.Listen = append(cfg.Listen, config.ListenerConfig{Endpoint: ep})
		}
	}
	return cfg, loader, nil
}

func configAction(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	verr := config.Verify(cfg)

	enc := yaml.NewEncoder(c.App.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(config.Sanitize(cfg)); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return verr
}
