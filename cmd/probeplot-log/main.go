// Command probeplot-log is a tool for viewing and analyzing probeplot
// capture files.
//
// Capture files are written by probeplot with the -capture flag or the
// capture.file configuration setting.
//
// Usage:
//
//	probeplot-log <command> [flags] <file.pplog>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSON lines or CSV
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View all events
//	probeplot-log view run.pplog
//
//	# View only warnings and errors from the firmware
//	probeplot-log view -category log -level warn run.pplog
//
//	# Export one series for plotting
//	probeplot-log filter -name FOO -o foo.pplog run.pplog
//	probeplot-log export -format csv -o foo.csv foo.pplog
//
//	# Show statistics
//	probeplot-log stats run.pplog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/probeplot/probeplot-go/cmd/probeplot-log/commands"
)

const usage = `probeplot-log - probeplot Capture Analyzer

Usage:
  probeplot-log <command> [flags] <file.pplog>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSON lines or CSV
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "probeplot-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `probeplot-log view - View capture file in human-readable format

Usage:
  probeplot-log view [flags] <file.pplog>

Flags:
`)
		fs.PrintDefaults()
	}

	category := fs.String("category", "", "Filter by category (observation, log, state, write, error)")
	name := fs.String("name", "", "Filter observations and writes by name")
	level := fs.String("level", "", "Minimum log level (trace, debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	filter := commands.ViewFilter{Name: *name}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}
	if *level != "" {
		l, err := commands.ParseLevelFlag(*level)
		if err != nil {
			fail(err)
		}
		filter.MinLevel = &l
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `probeplot-log export - Export capture file to JSON lines or CSV

Usage:
  probeplot-log export [flags] <file.pplog>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `probeplot-log filter - Filter capture file and write to new file

Usage:
  probeplot-log filter [flags] <file.pplog>

Flags:
`)
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "Output file (required)")
	sessionID := fs.String("session", "", "Filter by session ID")
	name := fs.String("name", "", "Filter observations and writes by name")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	category := fs.String("category", "", "Filter by category (observation, log, state, write, error)")
	level := fs.String("level", "", "Minimum log level (trace, debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	count, err := commands.RunFilter(path, commands.FilterOptions{
		Output:    *output,
		SessionID: *sessionID,
		Name:      *name,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Category:  *category,
		MinLevel:  *level,
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", count, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `probeplot-log stats - Show statistics about the capture file

Usage:
  probeplot-log stats <file.pplog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
