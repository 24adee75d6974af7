// Package approval asks the operator to review a generated detector before
// it is registered or saved.
package approval

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

type Result struct {
	Approved   bool
	UserAction string
}

type Prompt struct {
	Name        string
	Description string
	Source      string
}

func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// AskTerminal prompts on stdin/stderr. Without a terminal the detector is
// rejected; callers that want unattended registration pass --yes instead.
func AskTerminal(p Prompt) Result {
	if !IsInteractive() {
		return Result{
			Approved:   false,
			UserAction: "auto_deny_non_interactive",
		}
	}
	return Ask(os.Stdin, os.Stderr, p)
}

func Ask(in io.Reader, out io.Writer, p Prompt) Result {
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║              REVIEW GENERATED DETECTOR                       ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Name:        %s\n", p.Name)
	fmt.Fprintf(out, "Description: %s\n", p.Description)
	fmt.Fprintln(out, "")
	for _, line := range strings.Split(strings.TrimRight(p.Source, "\n"), "\n") {
		fmt.Fprintf(out, "  | %s\n", line)
	}
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	fmt.Fprintln(out, "  [a] Accept - register this detector")
	fmt.Fprintln(out, "  [d] Discard")
	fmt.Fprintln(out, "")

	reader := bufio.NewReader(in)

	for {
		fmt.Fprint(out, "Your choice [a/d]: ")
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			return Result{
				Approved:   false,
				UserAction: "error_reading_input",
			}
		}

		input = strings.TrimSpace(strings.ToLower(input))

		switch input {
		case "a", "accept", "yes", "y":
			return Result{
				Approved:   true,
				UserAction: "accept",
			}
		case "d", "discard", "no", "n":
			return Result{
				Approved:   false,
				UserAction: "discard",
			}
		default:
			if err != nil {
				return Result{Approved: false, UserAction: "error_reading_input"}
			}
			fmt.Fprintln(out, "Invalid input. Please enter 'a' to accept or 'd' to discard.")
		}
	}
}
