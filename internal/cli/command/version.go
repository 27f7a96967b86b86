package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/norpie/constellation/internal/infra/buildinfo"
)

// VersionCommand returns the version command. With --server it also asks
// meshd for its version.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show meshctl (and, when reachable, meshd) version",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "client",
				Usage: "only show the client version",
			},
		},
		Action: versionAction,
	}
}

type versionInfo struct {
	Client buildinfo.Info `json:"client" yaml:"client"`
	Server string         `json:"server,omitempty" yaml:"server,omitempty"`
}

func versionAction(c *cli.Context) error {
	info := versionInfo{Client: buildinfo.Get()}

	if !c.Bool("client") {
		if client, err := EnsureConnected(c); err == nil {
			ctx, cancel := requestContext(c)
			if st, err := client.Status(ctx); err == nil {
				info.Server = st.Version
			}
			cancel()
		}
	}

	if !isTable(c) {
		return render(c, info, nil)
	}
	fmt.Fprintf(c.App.Writer, "meshctl %s\n", buildinfo.String())
	if info.Server != "" {
		fmt.Fprintf(c.App.Writer, "meshd   %s\n", info.Server)
	}
	return nil
}
