package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "decide":
		return runDecideCmd(args[2:], stdout, stderr)
	case "action":
		return runActionCmd(args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "profile":
		return runProfileCmd(args[2:], stdout, stderr)
	case "history":
		return runHistoryCmd(args[2:], stdout, stderr)
	case "skills":
		return runSkillsCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorBlue  = "\033[34m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sMandate %s%s\n", ColorBold+ColorBlue, "v0.1.0", ColorReset)
	fmt.Fprintf(w, "%sAgents propose. Mandate disposes.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  mandate <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "GOVERNANCE")
	printCommand(w, "decide", "Decide one proposal read as JSON from stdin")
	printCommand(w, "action", "Drive an action lifecycle (submit, approve, reject, undo, resolve, show)")
	printCommand(w, "history", "Show the trust change history for a user and category")
	printCommand(w, "skills", "List registered skills from a skills manifest")

	printSection(w, "OPERATIONS")
	printCommand(w, "doctor", "Check configuration, database and governance profile")
	printCommand(w, "profile", "Validate a governance profile (--file)")

	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, name string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold, name, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-12s %s\n", name, desc)
}
