package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/harun/grove/pkg/router"
	"github.com/harun/grove/pkg/tot"
)

func printOutcome(w io.Writer, n int, outcome *router.Outcome) {
	action := "assigned to"
	if outcome.Created {
		action = "created"
	}
	fmt.Fprintf(w, "task %d: %s agent %s\n", n, action, outcome.Agent)
	printResult(w, outcome.Result)
}

func printResult(w io.Writer, result *tot.Result) {
	if result == nil {
		return
	}
	fmt.Fprintf(w, "steps: %d\n", result.Steps)
	fmt.Fprintf(w, "completion votes: %.0f%%\n", result.YesFraction*100)
	fmt.Fprintf(w, "```%s\n%s```\n", result.Language, ensureNewline(result.Code))
	if result.Output != "" {
		fmt.Fprintf(w, "output:\n%s", ensureNewline(result.Output))
	}
	if result.Error != "" {
		fmt.Fprintf(w, "stderr:\n%s", ensureNewline(result.Error))
	}
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
