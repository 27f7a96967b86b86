// Package command defines meshctl's commands on urfave/cli/v2.
//
// Every mesh command talks to a meshd admin server through
// connection.Client. The server is chosen, in order of precedence, by
// --server, MESHCTL_SERVER, the --profile or current profile in
// ~/.constellation/meshctl.yaml, and finally http://127.0.0.1:7080.
//
// Results are rendered with the output package; --output json or yaml
// prints the full admin response.
package command
