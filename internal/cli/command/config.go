package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	clicfg "github.com/norpie/constellation/internal/cli/config"
	"github.com/norpie/constellation/internal/cli/output"
	"github.com/norpie/constellation/internal/infra/confloader"
	servercfg "github.com/norpie/constellation/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage connection profiles and check meshd configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "profile",
				Usage: "Saved connection profiles",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List profiles",
						Action: profileList,
					},
					{
						Name:      "add",
						Usage:     "Add or replace a profile",
						ArgsUsage: "NAME",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "server", Usage: "admin address", Required: true},
							&cli.StringFlag{Name: "token", Usage: "admin bearer token"},
							&cli.BoolFlag{Name: "use", Usage: "make it the current profile"},
						},
						Action: profileAdd,
					},
					{
						Name:      "use",
						Usage:     "Set the current profile",
						ArgsUsage: "NAME",
						Action:    profileUse,
					},
					{
						Name:      "remove",
						Aliases:   []string{"rm"},
						Usage:     "Delete a profile",
						ArgsUsage: "NAME",
						Action:    profileRemove,
					},
				},
			},
			{
				Name:      "check",
				Usage:     "Validate a meshd configuration file and print it with secrets masked",
				ArgsUsage: "FILE",
				Description: "Environment overrides (CONSTELLATION_*) are applied as meshd would. " +
					"Durable storage backends create their data directory.",
				Action: configCheck,
			},
		},
	}
}

type profileRow struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
	Server  string `json:"server"`
	Token   string `json:"token"`
}

func profileList(c *cli.Context) error {
	cfg := GetConfig(c)
	rows := make([]profileRow, 0, len(cfg.Profiles))
	for _, name := range cfg.ProfileNames() {
		p := cfg.Profiles[name]
		token := "-"
		if p.Token != "" {
			token = "set"
		}
		rows = append(rows, profileRow{
			Name:    name,
			Current: name == cfg.CurrentProfile,
			Server:  p.Server,
			Token:   token,
		})
	}
	if len(rows) == 0 && isTable(c) {
		fmt.Fprintln(c.App.Writer, "No profiles")
		return nil
	}
	return render(c, rows, nil)
}

func profileAdd(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("profile name required")
	}
	cfg := GetConfig(c)
	cfg.Profiles[name] = clicfg.Profile{Server: c.String("server"), Token: c.String("token")}
	if c.Bool("use") || cfg.CurrentProfile == "" {
		cfg.CurrentProfile = name
	}
	if err := clicfg.Save(cfg, ParseGlobalFlags(c).Config); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Saved profile %q\n", name)
	return nil
}

func profileUse(c *cli.Context) error {
	name := c.Args().First()
	cfg := GetConfig(c)
	if _, err := cfg.Profile(name); err != nil || name == "" {
		return fmt.Errorf("%w: %q", clicfg.ErrUnknownProfile, name)
	}
	cfg.CurrentProfile = name
	if err := clicfg.Save(cfg, ParseGlobalFlags(c).Config); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Using profile %q\n", name)
	return nil
}

func profileRemove(c *cli.Context) error {
	name := c.Args().First()
	cfg := GetConfig(c)
	if _, ok := cfg.Profiles[name]; !ok {
		return fmt.Errorf("%w: %q", clicfg.ErrUnknownProfile, name)
	}
	delete(cfg.Profiles, name)
	if cfg.CurrentProfile == name {
		cfg.CurrentProfile = ""
	}
	if err := clicfg.Save(cfg, ParseGlobalFlags(c).Config); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Removed profile %q\n", name)
	return nil
}

func configCheck(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("configuration file required")
	}

	cfg := servercfg.Default()
	loader := confloader.NewLoader(confloader.WithConfigFile(path))
	if err := loader.Load(cfg); err != nil {
		return err
	}
	if err := servercfg.Verify(cfg); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	format, _ := output.ParseFormat(c.String("output"))
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	fmt.Fprintf(stderr(c), "%s: ok\n", path)
	return output.NewFormatter(format, false).Format(c.App.Writer, servercfg.Sanitize(cfg))
}
