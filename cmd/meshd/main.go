package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/norpie/constellation/internal/infra/buildinfo"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "meshd",
		Usage:   "run a mesh participant",
		Version: buildinfo.Get().Version,
		Flags:   serverFlags(),
		Action:  runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "join the mesh and serve (default)",
				Flags:  serverFlags(),
				Action: runAction,
			},
			{
				Name:   "config",
				Usage:  "print the effective configuration with secrets masked",
				Flags:  serverFlags(),
				Action: configAction,
			},
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(c *cli.Context) error {
					info := buildinfo.Get()
					fmt.Fprintf(c.App.Writer, "meshd %s (commit: %s, built: %s, %s)\n",
						info.Version, dashIfEmpty(info.Commit), dashIfEmpty(info.BuildTime), info.GoVersion)
					return nil
				},
			},
		},
		HideVersion: true,
	}
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
