package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// output receives everything the commands print.
var output io.Writer = os.Stdout

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "axlectl",
		Description: "axlectl - manage the plugins of a running axled",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("axlectl", flag.ExitOnError),
	}

	root.Subcommands["list"] = newListCommand()
	root.Subcommands["get"] = newGetCommand()
	root.Subcommands["load"] = newLoadCommand()
	root.Subcommands["unload"] = newUnloadCommand()
	root.Subcommands["reload"] = newReloadCommand()
	root.Subcommands["discover"] = newDiscoverCommand()
	root.Subcommands["publish"] = newPublishCommand()
	root.Subcommands["capabilities"] = newCapabilitiesCommand()
	root.Subcommands["graph"] = newGraphCommand()

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the command with args, the first of which names the subcommand
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(output, "Usage: %s <command> [flags] [args]\n\n", c.Name)
	fmt.Fprintf(output, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(output, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	fmt.Fprintf(output, "\nEvery command accepts -server (default $AXLE_SERVER or %s).\n", defaultServer)
	return nil
}
