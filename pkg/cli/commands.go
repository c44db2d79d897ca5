package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/platinummonkey/axle/pkg/host"
)

// newFlagSet returns a flag set carrying the flags every command accepts.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	server := os.Getenv("AXLE_SERVER")
	if server == "" {
		server = defaultServer
	}
	fs.String("server", server, "axled admin API URL")
	fs.Bool("json", false, "Output in JSON format")
	fs.Duration("timeout", time.Minute, "Request timeout")
	return fs
}

// parsed holds what every command needs after flag parsing.
type parsed struct {
	client *Client
	json   bool
	args   []string
	ctx    context.Context
	cancel context.CancelFunc
}

func parse(cmd *Command, args []string) (*parsed, error) {
	if err := cmd.Flags.Parse(args); err != nil {
		return nil, err
	}
	timeout := cmd.Flags.Lookup("timeout").Value.(flag.Getter).Get().(time.Duration)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &parsed{
		client: NewClient(cmd.Flags.Lookup("server").Value.String()),
		json:   cmd.Flags.Lookup("json").Value.String() == "true",
		args:   cmd.Flags.Args(),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// requireID returns the single plugin id argument.
func (p *parsed) requireID(usage string) (string, error) {
	if len(p.args) != 1 || p.args[0] == "" {
		return "", fmt.Errorf("usage: axlectl %s", usage)
	}
	return p.args[0], nil
}

func newListCommand() *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List plugins and their states",
		Flags:       newFlagSet("list"),
	}
	cmd.Flags.String("state", "", "Only show plugins in this state (e.g. LOADED, INVALID)")
	cmd.Run = func(args []string) error {
		p, err := parse(cmd, args)
		if err != nil {
			return err
		}
		defer p.cancel()

		statuses, err := p.client.List(p.ctx, strings.ToUpper(cmd.Flags.Lookup("state").Value.String()))
		if err != nil {
			return err
		}
		if p.json {
			return printJSON(statuses)
		}

		w := tabwriter.NewWriter(output, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSION\tSTATE\tPROVIDES\tREASON")
		for _, st := range statuses {
			version := ""
			if st.Descriptor != nil {
				version = st.Descriptor.Version.String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.ID, version, st.State, strings.Join(st.Provides, ","), st.Reason)
		}
		return w.Flush()
	}
	return cmd
}

func newGetCommand() *Command {
	cmd := &Command{
		Name:        "get",
		Description: "Show one plugin in detail",
		Flags:       newFlagSet("get"),
	}
	cmd.Run = func(args []string) error {
		p, err := parse(cmd, args)
		if err != nil {
			return err
		}
		defer p.cancel()

		id, err := p.requireID("get [flags] <id>")
		if err != nil {
			return err
		}
		st, err := p.client.Get(p.ctx, id)
		if err != nil {
			return err
		}
		if p.json {
			return printJSON(st)
		}
		printStatus(st)
		return nil
	}
	return cmd
}

func newLoadCommand() *Command {
	cmd := &Command{
		Name:        "load",
		Description: "Load a plugin and its dependencies",
		Flags:       newFlagSet("load"),
	}
	cmd.Run = func(args []string) error {
		p, err := parse(cmd, args)
		if err != nil {
			return err
		}
		defer p.cancel()

		id, err := p.requireID("load [flags] <id>")
		if err != nil {
			return err
		}
		st, err := p.client.Load(p.ctx, id)
		return p.report(st, err)
	}
	return cmd
}

func newUnloadCommand() *Command {
	cmd := &Command{
		Name:        "unload",
		Description: "Unload a plugin",
		Flags:       newFlagSet("unload"),
	}
	cmd.Flags.Bool("cascade", false, "Unload loaded dependents first")
	cmd.Run = func(args []string) error {
		p, err := parse(cmd, args)
		if err != nil {
			return err
		}
		defer p.cancel()

		id, err := p.requireID("unload [-cascade] <id>")
		if err != nil {
			return err
		}
		cascade := cmd.Flags.Lookup("cascade").Value.String() == "true"
		st, err := p.client.Unload(p.ctx, id, cascade)
		return p.report(st, err)
	}
	return cmd
}

func newReloadCommand() *Command {
	cmd := &Command{
		Name:        "reload",
		Description: "Re-read a plugin's descriptor and reload it",
		Flags:       newFlagSet("reload"),
	}
	cmd.Flags.Bool("cascade", false, "Reload loaded dependents as well")
	cmd.Run = func(args []string) error {
		p, err := parse(cmd, args)
		if err != nil {
			return err
		}
		defer p.cancel()

		id, err := p.requireID("reload [-cascade] <id>")
		if err != nil {
			return err
		}
		cascade := cmd.Flags.Lookup("cascade").Value.String() == "true"
		st, err := p.client.Reload(p.ctx, id, cascade)
		return p.report(st, err)
	}
	return cmd
}

func newDiscoverCommand() *Command {
	cmd := &Command{
		Name:        "discover",
		Description: "Rescan descriptor sources",
		Flags:       newFlagSet("discover"),
	}
	cmd.Flags.Bool("load", false, "Load every discovered plugin afterwards")
	cmd.Run = func(args []string) error {
		p, err := parse(cmd, args)
		if err != nil {
			return err
		}
		defer p.cancel()

		resp, err := p.client.Discover(p.ctx, cmd.Flags.Lookup("load").Value.String() == "true")
		if err != nil {
			return err
		}
		if p.json {
			return printJSON(resp)
		}

		d := resp.Discovery
		fmt.Fprintf(output, "accepted: %d  changed: %d  removed: %d  rejected: %d\n",
			len(d.Accepted), len(d.Changed), len(d.Removed), len(d.Rejected))
		for _, f := range d.Rejected {
			fmt.Fprintf(output, "  rejected %s: %s\n", f.ID, f.Reason)
		}
		if resp.Load != nil {
			printReport(resp.Load)
		}
		return nil
	}
	return cmd
}

func newPublishCommand() *Command {
	cmd := &Command{
		Name:        "publish",
		Description: "Publish an event to plugin handlers",
		Flags:       newFlagSet("publish"),
	}
	cmd.Run = func(args []string) error {
		p, err := parse(cmd, args)
		if err != nil {
			return err
		}
		defer p.cancel()

		if len(p.args) < 1 || len(p.args) > 2 {
			return fmt.Errorf("usage: axlectl publish [flags] <event> [json-array-args]")
		}
		var eventArgs []any
		if len(p.args) == 2 {
			if err := json.Unmarshal([]byte(p.args[1]), &eventArgs); err != nil {
				return fmt.Errorf("event arguments must be a JSON array: %w", err)
			}
		}

		resp, err := p.client.Publish(p.ctx, p.args[0], eventArgs)
		if err != nil {
			return err
		}
		if p.json {
			return printJSON(resp)
		}
		fmt.Fprintf(output, "published %s to %d subscriber(s)\n", resp.Event, resp.Subscribers)
		for _, e := range resp.HandlerErrors {
			fmt.Fprintf(output, "  handler error: %s\n", e)
		}
		return nil
	}
	return cmd
}

func newCapabilitiesCommand() *Command {
	cmd := &Command{
		Name:        "capabilities",
		Description: "List provided capabilities and their consumers",
		Flags:       newFlagSet("capabilities"),
	}
	cmd.Run = func(args []string) error {
		p, err := parse(cmd, args)
		if err != nil {
			return err
		}
		defer p.cancel()

		resp, err := p.client.Capabilities(p.ctx)
		if err != nil {
			return err
		}
		if p.json {
			return printJSON(resp)
		}

		consumers := make(map[string][]string)
		for _, l := range resp.Links {
			consumers[l.Capability] = append(consumers[l.Capability], l.Consumer)
		}
		w := tabwriter.NewWriter(output, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "CAPABILITY\tPROVIDERS\tCONSUMERS")
		for _, c := range resp.Capabilities {
			users := consumers[c.Name]
			sort.Strings(users)
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, strings.Join(c.Providers, ","), strings.Join(users, ","))
		}
		return w.Flush()
	}
	return cmd
}

func newGraphCommand() *Command {
	cmd := &Command{
		Name:        "graph",
		Description: "Print the dependency graph (Graphviz DOT by default)",
		Flags:       newFlagSet("graph"),
	}
	cmd.Run = func(args []string) error {
		p, err := parse(cmd, args)
		if err != nil {
			return err
		}
		defer p.cancel()

		data, err := p.client.Graph(p.ctx, !p.json)
		if err != nil {
			return err
		}
		_, err = output.Write(data)
		return err
	}
	return cmd
}

// report prints the status a transition left the plugin in.
func (p *parsed) report(st host.Status, err error) error {
	if err != nil {
		return err
	}
	if p.json {
		return printJSON(st)
	}
	fmt.Fprintf(output, "%s is %s\n", st.ID, st.State)
	return nil
}

func printStatus(st host.Status) {
	w := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", st.ID)
	if st.Descriptor != nil {
		fmt.Fprintf(w, "Version:\t%s\n", st.Descriptor.Version)
		if st.Descriptor.Source != "" {
			fmt.Fprintf(w, "Source:\t%s\n", st.Descriptor.Source)
		}
	}
	fmt.Fprintf(w, "State:\t%s\n", st.State)
	if st.Reason != "" {
		fmt.Fprintf(w, "Reason:\t%s\n", st.Reason)
	}
	if len(st.Chain) > 1 {
		fmt.Fprintf(w, "Chain:\t%s\n", strings.Join(st.Chain, " -> "))
	}
	if st.InstanceID != "" {
		fmt.Fprintf(w, "Instance:\t%s\n", st.InstanceID)
	}
	if len(st.Provides) > 0 {
		fmt.Fprintf(w, "Provides:\t%s\n", strings.Join(st.Provides, ", "))
	}
	deps := make([]string, 0, len(st.Injected))
	for dep := range st.Injected {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	for _, dep := range deps {
		bound := st.Injected[dep]
		if bound == "" {
			bound = "(not loaded)"
		}
		fmt.Fprintf(w, "Dependency %s:\t%s\n", dep, bound)
	}
	for _, e := range st.CallbackErrors {
		fmt.Fprintf(w, "Callback error:\t%s\n", e)
	}
	if st.PendingUpdate {
		fmt.Fprintf(w, "Pending update:\tyes\n")
	}
	if !st.LoadedAt.IsZero() {
		fmt.Fprintf(w, "Loaded at:\t%s\n", st.LoadedAt.Format(time.RFC3339))
	}
	w.Flush()
}

func printReport(r *host.Report) {
	fmt.Fprintf(output, "loaded: %s\n", strings.Join(r.Loaded, ", "))
	for _, f := range r.Failed {
		fmt.Fprintf(output, "  failed %s: %s\n", f.ID, f.Reason)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
