package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/norpie/constellation/internal/cli/config"
	"github.com/norpie/constellation/internal/cli/connection"
	"github.com/norpie/constellation/internal/cli/output"
	"github.com/norpie/constellation/internal/infra/buildinfo"
)

// Metadata keys.
const (
	metaConnMgr = "connMgr"
	metaConfig  = "cliConfig"
)

// App creates the CLI application.
func App() *cli.App {
	app := &cli.App{
		Name:    "meshctl",
		Usage:   "Inspect and operate a constellation mesh through meshd",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			StatusCommand(),
			MembersCommand(),
			ResolveCommand(),
			NegotiateCommand(),
			PingCommand(),
			CallCommand(),
			EndpointsCommand(),
			LeaveCommand(),
			EventsCommand(),
			WaitCommand(),
			ConfigCommand(),
			ShellCommand(),
			ConnectCommand(),
			DisconnectCommand(),
			VersionCommand(),
		},
		Before: before,
	}
	app.Metadata = map[string]any{}
	return app
}

// before loads the CLI configuration once. Nested runs from the shell
// reuse the first run's state.
func before(c *cli.Context) error {
	if _, ok := c.App.Metadata[metaConfig]; !ok {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		c.App.Metadata[metaConfig] = cfg
	}
	if _, ok := c.App.Metadata[metaConnMgr]; !ok {
		c.App.Metadata[metaConnMgr] = connection.NewManager(c.Duration("timeout"))
	}
	if _, err := output.ParseFormat(c.String("output")); err != nil {
		return err
	}
	return nil
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "meshd admin address (http://host:port, unix:///path or host:port)",
		},
		&cli.StringFlag{
			Name:  "token",
			Usage: "admin bearer token",
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "saved connection profile",
			EnvVars: []string{"MESHCTL_PROFILE"},
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "meshctl configuration file",
			EnvVars: []string{"MESHCTL_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "show wide output (more columns)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "per-request timeout",
			Value: connection.DefaultTimeout,
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Server  string
	Token   string
	Profile string
	Config  string
	Output  string
	Wide    bool
	Timeout time.Duration
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Server:  c.String("server"),
		Token:   c.String("token"),
		Profile: c.String("profile"),
		Config:  c.String("config"),
		Output:  c.String("output"),
		Wide:    c.Bool("wide"),
		Timeout: c.Duration("timeout"),
	}
}

// GetConnectionManager retrieves the connection manager from context.
func GetConnectionManager(c *cli.Context) *connection.Manager {
	if mgr, ok := c.App.Metadata[metaConnMgr].(*connection.Manager); ok {
		return mgr
	}
	return nil
}

// GetConfig retrieves the loaded CLI configuration.
func GetConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// ResolveConnection merges profile, env and flags into a connection.
func ResolveConnection(c *cli.Context) (*connection.Connection, error) {
	flags := ParseGlobalFlags(c)
	p, err := GetConfig(c).Profile(flags.Profile)
	if err != nil {
		return nil, err
	}
	p = config.Merge(p, environ(), map[string]string{
		"server": flags.Server,
		"token":  flags.Token,
	})
	return &connection.Connection{Name: flags.Profile, Server: p.Server, Token: p.Token}, nil
}

// EnsureConnected returns a client for the shell's current connection, or
// one built from flags and profile.
func EnsureConnected(c *cli.Context) (*connection.Client, error) {
	if mgr := GetConnectionManager(c); mgr != nil && mgr.IsConnected() {
		return mgr.Client(), nil
	}
	conn, err := ResolveConnection(c)
	if err != nil {
		return nil, err
	}
	return connection.NewClient(conn.Server, conn.Token, ParseGlobalFlags(c).Timeout)
}

// requestContext bounds one command by --timeout.
func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, ParseGlobalFlags(c).Timeout)
}

// render writes data in the selected format. table, when non-nil, is
// used for table output instead of reflecting over data.
func render(c *cli.Context, data any, table *output.Table) error {
	flags := ParseGlobalFlags(c)
	format, _ := output.ParseFormat(flags.Output)
	if format == output.FormatTable && table != nil {
		return table.Render(c.App.Writer)
	}
	return output.NewFormatter(format, flags.Wide).Format(c.App.Writer, data)
}

func isTable(c *cli.Context) bool {
	format, _ := output.ParseFormat(c.String("output"))
	return format == output.FormatTable
}

func stderr(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

func environ() map[string]string {
	return map[string]string{
		"MESHCTL_SERVER": os.Getenv("MESHCTL_SERVER"),
		"MESHCTL_TOKEN":  os.Getenv("MESHCTL_TOKEN"),
	}
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
