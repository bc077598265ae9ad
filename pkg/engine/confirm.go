package engine

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bootforge/bootforge/pkg/telemetry"
)

// TerminalGate asks the user for confirmation on the terminal. One prompt,
// one line of input, no re-prompting.
type TerminalGate struct {
	in    *bufio.Reader
	out   io.Writer
	log   *telemetry.Logger
	force bool
}

// NewTerminalGate creates a gate reading from in and prompting on out.
// With force set, every Confirm call passes without touching in or out.
func NewTerminalGate(in io.Reader, out io.Writer, log *telemetry.Logger, force bool) *TerminalGate {
	return &TerminalGate{
		in:    bufio.NewReader(in),
		out:   out,
		log:   log.NewComponentLogger("confirm"),
		force: force,
	}
}

// Confirm presents the prompt and reads one line. Only "y" or "yes"
// (case-insensitive, surrounding whitespace ignored) confirms.
func (g *TerminalGate) Confirm(prompt string) bool {
	if g.force {
		return true
	}

	fmt.Fprintf(g.out, "%s [y/N]: ", prompt)

	line, err := g.in.ReadString('\n')
	if err != nil && line == "" {
		// EOF with no input counts as a decline, same as an empty line.
		g.log.Debug("confirmation input closed, treating as decline")
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
