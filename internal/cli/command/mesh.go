package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	adminv1 "github.com/norpie/constellation/api/admin/v1"
	"github.com/norpie/constellation/internal/cli/output"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/mesh"
)

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the participant's consensus and mesh status",
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	st, err := client.Status(ctx)
	if err != nil {
		return err
	}

	leader := st.Leader
	if st.IsLeader {
		leader += " (self)"
	}
	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("Identity", st.Identity)
	t.AddRow("State", st.State)
	t.AddRow("Transponder", dash(leader))
	t.AddRow("Epoch", strconv.FormatUint(st.Epoch, 10))
	t.AddRow("Index", strconv.FormatUint(st.Index, 10))
	t.AddRow("Members", strconv.Itoa(st.Members))
	t.AddRow("Endpoints", joinEndpoints(st.Endpoints))
	t.AddRow("Raft", dash(st.RaftAddr))
	t.AddRow("Gossip", dash(st.GossipAddr))
	t.AddRow("Version", dash(st.Version))
	if ParseGlobalFlags(c).Wide {
		keys := make([]string, 0, len(st.Stats))
		for k := range st.Stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.AddRow("raft."+k, st.Stats[k])
		}
	}
	return render(c, st, t)
}

// MembersCommand returns the members command.
func MembersCommand() *cli.Command {
	return &cli.Command{
		Name:    "members",
		Aliases: []string{"ls"},
		Usage:   "List address book entries and their consensus roles",
		Action:  membersAction,
	}
}

type memberRow struct {
	Identity   string    `json:"identity"`
	Role       string    `json:"role"`
	Endpoints  string    `json:"endpoints"`
	Translator bool      `json:"translator"`
	RaftAddr   string    `json:"raft_addr" table:"wide"`
	Epoch      uint64    `json:"epoch" table:"wide"`
	LastSeen   time.Time `json:"last_seen" table:"wide"`
}

func membersAction(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := client.Members(ctx)
	if err != nil {
		return err
	}
	if !isTable(c) {
		return render(c, resp, nil)
	}

	rows := make([]memberRow, 0, len(resp.Members))
	for _, m := range resp.Members {
		rows = append(rows, memberRow{
			Identity:   m.Entry.Identity.String(),
			Role:       role(m),
			Endpoints:  joinEndpoints(m.Entry.Endpoints),
			Translator: m.Entry.Translator,
			RaftAddr:   m.Entry.RaftAddr,
			Epoch:      m.Entry.Epoch,
			LastSeen:   m.Entry.LastSeenTime(),
		})
	}
	if len(rows) == 0 {
		fmt.Fprintln(c.App.Writer, "No members")
		return nil
	}
	return render(c, rows, nil)
}

func role(m adminv1.Member) string {
	switch {
	case m.Leader:
		return "transponder"
	case m.Voter:
		return "voter"
	case m.Consensus:
		return "nonvoter"
	default:
		return "-"
	}
}

// ResolveCommand returns the resolve command.
func ResolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Show the endpoints registered for a service",
		ArgsUsage: "IDENTITY",
		Action:    resolveAction,
	}
}

func resolveAction(c *cli.Context) error {
	id, err := identityArg(c)
	if err != nil {
		return err
	}
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	eps, err := client.Resolve(ctx, id)
	if err != nil {
		return err
	}
	return render(c, eps, nil)
}

// NegotiateCommand returns the negotiate command.
func NegotiateCommand() *cli.Command {
	return &cli.Command{
		Name:      "negotiate",
		Usage:     "Show how the participant would reach a service",
		ArgsUsage: "IDENTITY",
		Action:    negotiateAction,
	}
}

func negotiateAction(c *cli.Context) error {
	id, err := identityArg(c)
	if err != nil {
		return err
	}
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	plan, err := client.Negotiate(ctx, id)
	if err != nil {
		return err
	}

	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("Outcome", plan.Outcome)
	t.AddRow("Kind", dash(plan.Kind))
	if plan.Endpoint != nil {
		t.AddRow("Endpoint", plan.Endpoint.String())
	}
	if plan.Intermediary != "" {
		t.AddRow("Intermediary", plan.Intermediary)
	}
	if plan.IngressEndpoint != nil {
		t.AddRow("Ingress", plan.IngressEndpoint.String())
	}
	return render(c, plan, t)
}

// PingCommand returns the ping command.
func PingCommand() *cli.Command {
	return &cli.Command{
		Name:      "ping",
		Usage:     "Ping a mesh endpoint from the participant",
		ArgsUsage: "KIND://ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"c"},
				Usage:   "number of pings",
				Value:   1,
			},
		},
		Action: pingAction,
	}
}

func pingAction(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		return fmt.Errorf("endpoint address required")
	}
	if _, err := mesh.ParseAddress(addr); err != nil {
		return err
	}
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	var results []*adminv1.PingResponse
	for i := 0; i < max(c.Int("count"), 1); i++ {
		ctx, cancel := requestContext(c)
		pong, err := client.Ping(ctx, addr)
		cancel()
		if err != nil {
			return err
		}
		results = append(results, pong)
		if isTable(c) {
			fmt.Fprintf(c.App.Writer, "pong from %s via %s: time=%s\n", pong.Identity, addr, pong.RTT)
		}
	}
	if isTable(c) {
		return nil
	}
	return render(c, results, nil)
}

// CallCommand returns the call command.
func CallCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Send a request to a service and print the reply",
		ArgsUsage: "IDENTITY [PAYLOAD|-]",
		Description: "The payload is taken from the second argument, from stdin when it " +
			"is \"-\", or is empty when omitted.",
		Action: callAction,
	}
}

func callAction(c *cli.Context) error {
	id, err := identityArg(c)
	if err != nil {
		return err
	}

	var payload []byte
	switch arg := c.Args().Get(1); arg {
	case "":
	case "-":
		payload, err = io.ReadAll(stdin(c))
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
	default:
		payload = []byte(arg)
	}

	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	resp, err := client.Call(ctx, id, payload)
	if err != nil {
		return err
	}
	if !isTable(c) {
		return render(c, resp, nil)
	}
	if ParseGlobalFlags(c).Wide {
		fmt.Fprintf(stderr(c), "path: %s\n", resp.Path)
	}
	w := c.App.Writer
	if _, err := w.Write(resp.Payload); err != nil {
		return err
	}
	if len(resp.Payload) == 0 || resp.Payload[len(resp.Payload)-1] != '\n' {
		fmt.Fprintln(w)
	}
	return nil
}

// EndpointsCommand returns the endpoints command.
func EndpointsCommand() *cli.Command {
	return &cli.Command{
		Name:  "endpoints",
		Usage: "Show or replace the participant's advertised endpoints",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show advertised endpoints",
				Action: endpointsShowAction,
			},
			{
				Name:      "set",
				Usage:     "Replace advertised endpoints",
				ArgsUsage: "KIND://ADDRESS...",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "vpn-only",
						Usage: "endpoints (by address) restricted to VPN callers",
					},
				},
				Action: endpointsSetAction,
			},
		},
	}
}

func endpointsShowAction(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	return render(c, st.Endpoints, nil)
}

func endpointsSetAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one endpoint required")
	}
	vpnOnly := make(map[string]bool)
	for _, a := range c.StringSlice("vpn-only") {
		vpnOnly[a] = true
	}

	eps := make([]domain.Endpoint, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		ep, err := mesh.ParseAddress(arg)
		if err != nil {
			return err
		}
		ep.VPNOnly = vpnOnly[arg] || vpnOnly[ep.Address]
		eps = append(eps, ep)
	}

	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	got, err := client.UpdateEndpoints(ctx, eps)
	if err != nil {
		return err
	}
	return render(c, got, nil)
}

// LeaveCommand returns the leave command.
func LeaveCommand() *cli.Command {
	return &cli.Command{
		Name:  "leave",
		Usage: "Remove the participant from the mesh and stop meshd",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "do not ask for confirmation",
			},
		},
		Action: leaveAction,
	}
}

func leaveAction(c *cli.Context) error {
	if !c.Bool("yes") {
		return errors.New("leave stops the participant; rerun with --yes to confirm")
	}
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := client.Leave(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Left the mesh")
	return nil
}

// EventsCommand returns the events command.
func EventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Show recent participant events",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "most recent events to show (0 for all)",
				Value:   20,
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "only events of this kind",
			},
		},
		Action: eventsAction,
	}
}

type eventRow struct {
	Time  time.Time `json:"time"`
	Kind  string    `json:"kind"`
	Attrs string    `json:"attrs"`
}

func eventsAction(c *cli.Context) error {
	if c.Int("limit") < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	events, err := client.Events(ctx, c.Int("limit"), c.String("kind"))
	if err != nil {
		return err
	}
	if !isTable(c) {
		return render(c, events, nil)
	}
	if len(events) == 0 {
		fmt.Fprintln(c.App.Writer, "No events")
		return nil
	}
	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, eventRow{Time: ev.Time, Kind: ev.Kind, Attrs: formatAttrs(ev.Attrs)})
	}
	return render(c, rows, nil)
}

// WaitCommand returns the wait command.
func WaitCommand() *cli.Command {
	return &cli.Command{
		Name:  "wait",
		Usage: "Wait until the participant has joined and sees a transponder",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "for",
				Usage: "give up after this long",
				Value: time.Minute,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "poll interval",
				Value: 500 * time.Millisecond,
			},
		},
		Action: waitAction,
	}
}

func waitAction(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	spin := output.NewSpinner(stderr(c), "waiting for "+client.BaseURL())
	spin.Start()

	deadline := time.Now().Add(c.Duration("for"))
	ticker := time.NewTicker(c.Duration("interval"))
	defer ticker.Stop()

	for {
		ctx, cancel := requestContext(c)
		ok, reason, err := client.Ready(ctx)
		cancel()
		switch {
		case ok:
			spin.Success("ready")
			return nil
		case err != nil:
			spin.SetMessage("waiting: " + err.Error())
		default:
			spin.SetMessage("waiting: " + reason)
		}

		if time.Now().After(deadline) {
			spin.Fail("not ready after " + c.Duration("for").String())
			return fmt.Errorf("participant not ready")
		}
		select {
		case <-c.Context.Done():
			spin.Stop()
			return c.Context.Err()
		case <-ticker.C:
		}
	}
}

func identityArg(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("service identity required")
	}
	if _, err := domain.ParseServiceIdentity(id); err != nil {
		return "", err
	}
	return id, nil
}

func stdin(c *cli.Context) io.Reader {
	if c.App.Reader != nil {
		return c.App.Reader
	}
	return os.Stdin
}

func joinEndpoints(eps []domain.Endpoint) string {
	if len(eps) == 0 {
		return "-"
	}
	parts := make([]string, len(eps))
	for i, ep := range eps {
		parts[i] = ep.String()
		if ep.VPNOnly {
			parts[i] += "(vpn)"
		}
	}
	return strings.Join(parts, ",")
}

func formatAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + attrs[k]
	}
	return strings.Join(parts, " ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
