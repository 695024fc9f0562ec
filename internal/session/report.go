package session

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Verdict is the single pass/fail outcome of a compile.
type Verdict int

// Verdicts in increasing severity.
const (
	VerdictPass Verdict = iota
	VerdictWarnings
	VerdictDegraded
	VerdictFail
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "PASS"
	case VerdictWarnings:
		return "PASS (with warnings)"
	case VerdictDegraded:
		return "PASS (degraded)"
	default:
		return "FAIL"
	}
}

// Verdict grades the session given the error that ended it, if any.
func (s *Session) Verdict(fatal error) Verdict {
	switch {
	case fatal != nil || s.Err() != nil:
		return VerdictFail
	case s.Degraded():
		return VerdictDegraded
	case s.Warnings() > 0:
		return VerdictWarnings
	}
	return VerdictPass
}

// WriteReport writes the textual summary: diagnostics, counters, stage
// timings, degradations and the verdict.
func (s *Session) WriteReport(w io.Writer, fatal error) Verdict {
	diags, counts, degraded, times := s.snapshot()
	verdict := s.Verdict(fatal)

	fmt.Fprintf(w, "compile %s\n", s.ID)

	if len(diags) > 0 {
		fmt.Fprintf(w, "\ndiagnostics (%d):\n", len(diags))
		for _, d := range diags {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}

	if len(counts) > 0 {
		fmt.Fprintln(w, "\ncounters:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, k := range sortedKeys(counts) {
			fmt.Fprintf(tw, "  %s\t%d\n", k, counts[k])
		}
		tw.Flush()
	}

	if len(times) > 0 {
		fmt.Fprintln(w, "\nstages:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, t := range times {
			fmt.Fprintf(tw, "  %s\t%s\n", t.Stage, t.Duration.Round(time.Microsecond))
		}
		tw.Flush()
	}

	if len(degraded) > 0 {
		fmt.Fprintln(w, "\ndegraded:")
		for _, d := range degraded {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}

	if fatal != nil {
		fmt.Fprintf(w, "\nerror: %s\n", indent(fatal.Error()))
	}
	fmt.Fprintf(w, "\n%s\n", verdict)
	return verdict
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}
