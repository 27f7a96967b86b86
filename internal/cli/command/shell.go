package command

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/norpie/constellation/internal/cli/repl"
)

// ShellCommand returns the interactive shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Run meshctl commands interactively against one meshd",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "history",
				Usage: "history file (empty disables persistence)",
				Value: repl.DefaultHistoryPath(),
			},
		},
		Action: shellAction,
	}
}

func shellAction(c *cli.Context) error {
	mgr := GetConnectionManager(c)
	if mgr == nil {
		return fmt.Errorf("connection manager not initialized")
	}

	conn, err := ResolveConnection(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	if err := mgr.Connect(ctx, conn); err != nil {
		fmt.Fprintf(stderr(c), "warning: %v (use \"connect\" to pick a server)\n", err)
	}
	cancel()

	history := repl.NewHistory(c.String("history"))
	if err := history.Load(); err != nil {
		fmt.Fprintf(stderr(c), "warning: load history: %v\n", err)
	}

	base := shellArgs(c)
	exec := func(args []string) error {
		return c.App.RunContext(c.Context, append(slices.Clone(base), args...))
	}

	r := repl.New(stdin(c), c.App.Writer, exec, shellCommands(c.App),
		repl.WithHistory(history),
		repl.WithPrompt(func() string {
			if cur := mgr.Current(); cur != nil {
				if cur.Name != "" {
					return "meshctl[" + cur.Name + "]> "
				}
				return "meshctl[" + cur.Server + "]> "
			}
			return "meshctl> "
		}),
	)
	runErr := r.Run()
	if err := history.Save(); err != nil {
		fmt.Fprintf(stderr(c), "warning: save history: %v\n", err)
	}
	return runErr
}

// shellArgs rebuilds the global flags for commands run inside the shell.
func shellArgs(c *cli.Context) []string {
	flags := ParseGlobalFlags(c)
	args := []string{c.App.Name,
		"--output", flags.Output,
		"--timeout", flags.Timeout.String(),
		"--config", flags.Config,
		"--wide=" + strconv.FormatBool(flags.Wide),
	}
	for name, v := range map[string]string{"server": flags.Server, "token": flags.Token, "profile": flags.Profile} {
		if v != "" {
			args = append(args, "--"+name, v)
		}
	}
	return args
}

func shellCommands(app *cli.App) []string {
	var names []string
	for _, cmd := range app.Commands {
		if cmd.Name == "shell" {
			continue
		}
		names = append(names, cmd.Names()...)
	}
	return append(names, "help", "connect", "disconnect")
}

// ConnectCommand returns the connect command. Inside the shell it switches
// the target server; outside it only checks connectivity.
func ConnectCommand() *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "Connect to a meshd admin server",
		ArgsUsage: "[SERVER]",
		Hidden:    true,
		Action:    connectAction,
	}
}

func connectAction(c *cli.Context) error {
	mgr := GetConnectionManager(c)
	if mgr == nil {
		return fmt.Errorf("connection manager not initialized")
	}

	conn, err := ResolveConnection(c)
	if err != nil {
		return err
	}
	if server := c.Args().First(); server != "" {
		conn.Server = server
		conn.Name = ""
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := mgr.Connect(ctx, conn); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Connected to %s\n", conn.Server)
	return nil
}

// DisconnectCommand returns the disconnect command.
func DisconnectCommand() *cli.Command {
	return &cli.Command{
		Name:   "disconnect",
		Usage:  "Forget the current shell connection",
		Hidden: true,
		Action: disconnectAction,
	}
}

func disconnectAction(c *cli.Context) error {
	mgr := GetConnectionManager(c)
	if mgr == nil {
		return fmt.Errorf("connection manager not initialized")
	}
	if !mgr.IsConnected() {
		fmt.Fprintln(c.App.Writer, "Not connected")
		return nil
	}
	mgr.Disconnect()
	fmt.Fprintln(c.App.Writer, "Disconnected")
	return nil
}
