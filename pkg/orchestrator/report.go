package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	skipColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

// PrintResults writes a per-scenario summary followed by the totals. Colour follows
// color.NoColor, which is off when w is not a terminal.
func PrintResults(w io.Writer, r Results) {
	if r.Err != nil {
		_, _ = failColor.Fprint(w, "ERROR")
		_, _ = fmt.Fprintf(w, " suite could not run: %v\n", r.Err)
		return
	}

	for _, o := range r.Outcomes {
		if o.Failed {
			_, _ = failColor.Fprint(w, "FAIL")
		} else {
			_, _ = passColor.Fprint(w, "PASS")
		}
		_, _ = fmt.Fprintf(w, " %s ", o.Scenario)
		_, _ = dimColor.Fprintf(w, "(%s)\n", o.Duration.Round(time.Millisecond))
		if !o.Failed {
			continue
		}
		_, _ = fmt.Fprintf(w, "     %s at %s\n", o.Category, o.Reached)
		for _, line := range strings.Split(o.Error(), "\n") {
			_, _ = fmt.Fprintf(w, "     %s\n", line)
		}
	}
	for _, name := range r.Skipped {
		_, _ = skipColor.Fprint(w, "SKIP")
		_, _ = fmt.Fprintf(w, " %s\n", name)
	}

	failed := len(r.Failed())
	_, _ = fmt.Fprintln(w)
	summary := fmt.Sprintf("%d passed, %d failed, %d skipped", r.Passed(), failed, len(r.Skipped))
	if failed > 0 {
		_, _ = failColor.Fprintln(w, summary)
	} else {
		_, _ = passColor.Fprintln(w, summary)
	}
}
