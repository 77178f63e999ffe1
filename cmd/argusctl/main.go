// argusctl is the operator CLI for an Argus server: it mints tokens,
// watches live proctoring alerts and runs a capture agent for one exam.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"token", "mint a bearer token", runToken},
	{"watch", "stream alerts for one or more exams", runWatch},
	{"agent", "run the capture loop for an exam", runAgent},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(args[1:])
		}
	}
	printUsage()
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage() {
	var b strings.Builder
	b.WriteString("Usage: argusctl <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-8s %s\n", c.name, c.summary)
	}
	b.WriteString("\nRun 'argusctl <command> --help' for command flags.\n")
	fmt.Fprint(os.Stderr, b.String())
}

// parseFlags parses args into fs. It returns done=true when help was shown.
func parseFlags(fs *pflag.FlagSet, args []string) (done bool, err error) {
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return true, nil
		}
		return false, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return false, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return false, nil
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "argusctl ", log.LstdFlags|log.LUTC)
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
