package compare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jonwraymond/codemode/exec"
	"github.com/jonwraymond/codemode/tokens"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrBothFailed is returned by Run when no scripted mode completed.
var ErrBothFailed = errors.New("all comparison modes failed")

// ModeReport is the outcome of one mode.
type ModeReport struct {
	Mode    tokens.Mode   `json:"mode"`
	Session string        `json:"session,omitempty"`
	Turns   []exec.Turn   `json:"turns"`
	Totals  tokens.Totals `json:"totals"`

	// Err is the error of the final turn. Earlier failed turns are part of
	// the conversation: the model reads the error and tries again.
	Err error `json:"-"`
}

// Ran reports whether the script had turns for this mode.
func (m ModeReport) Ran() bool {
	return len(m.Turns) > 0 || m.Err != nil
}

// Failed reports whether the mode ran and did not complete.
func (m ModeReport) Failed() bool {
	return m.Err != nil
}

// Report is the outcome of a comparison.
type Report struct {
	Script      string     `json:"script,omitempty"`
	Traditional ModeReport `json:"traditional"`
	Code        ModeReport `json:"code"`
}

// Runner is the part of exec.Exec a comparison needs.
type Runner interface {
	NewSession() *exec.Session
}

// Run replays both modes of script concurrently, each in its own session.
// It returns an error only when every scripted mode failed; the report is
// complete either way.
func Run(ctx context.Context, ex Runner, script *Script) (Report, error) {
	if err := script.Validate(); err != nil {
		return Report{}, err
	}
	rep := Report{
		Script:      script.Name,
		Traditional: ModeReport{Mode: tokens.ModeTraditional},
		Code:        ModeReport{Mode: tokens.ModeCode},
	}

	var g errgroup.Group
	if len(script.Traditional) > 0 {
		g.Go(func() error {
			s := ex.NewSession()
			s.AddContext(script.Instruction)
			rep.Traditional.Session = s.ID()
			for _, t := range script.Traditional {
				turn, err := s.Dispatch(ctx, t.ToolCall(), t.Usage)
				rep.Traditional.Err = err
				if turn.ID == "" {
					// The session could not run at all.
					return nil
				}
				rep.Traditional.Turns = append(rep.Traditional.Turns, turn)
			}
			return nil
		})
	}
	if len(script.Code) > 0 {
		g.Go(func() error {
			s := ex.NewSession()
			s.PersistGlobals(script.PersistGlobals)
			s.AddContext(script.Instruction)
			rep.Code.Session = s.ID()
			for _, t := range script.Code {
				turn, err := s.ExecuteCode(ctx, t.Code, t.Usage)
				rep.Code.Err = err
				if turn.ID == "" {
					return nil
				}
				rep.Code.Turns = append(rep.Code.Turns, turn)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Traditional.Totals = totals(rep.Traditional.Turns)
	rep.Code.Totals = totals(rep.Code.Turns)

	var failed []error
	for _, m := range []ModeReport{rep.Traditional, rep.Code} {
		if !m.Ran() {
			continue
		}
		if !m.Failed() {
			return rep, nil
		}
		failed = append(failed, fmt.Errorf("%s: %w", m.Mode, m.Err))
	}
	return rep, errors.Join(append([]error{ErrBothFailed}, failed...)...)
}

func totals(turns []exec.Turn) tokens.Totals {
	rows := make([]tokens.Row, len(turns))
	for i, t := range turns {
		rows[i] = t.Row
	}
	return tokens.Summarize(rows).Totals
}

// Savings returns the fraction of total tokens code mode saved relative to
// traditional mode, and false when there is nothing to compare.
func (r Report) Savings() (float64, bool) {
	trad, code := r.Traditional.Totals.TotalTokens, r.Code.Totals.TotalTokens
	if trad == 0 || !r.Code.Ran() {
		return 0, false
	}
	return 1 - float64(code)/float64(trad), true
}

// WriteTable prints the comparison as an aligned plain-text table.
func (r Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p := message.NewPrinter(language.English)

	if r.Script != "" {
		p.Fprintf(tw, "Script:\t%s\t\n", r.Script)
	}
	p.Fprintf(tw, "\tTRADITIONAL\tCODE\n")
	row := func(label string, f func(tokens.Totals) int) {
		p.Fprintf(tw, "%s\t%d\t%d\n", label, f(r.Traditional.Totals), f(r.Code.Totals))
	}
	row("Total Turns", func(t tokens.Totals) int { return t.Turns })
	row("Input Tokens", func(t tokens.Totals) int { return t.InputTokens })
	row("Output Tokens", func(t tokens.Totals) int { return t.OutputTokens })
	row("Total Tokens", func(t tokens.Totals) int { return t.TotalTokens })
	row("Tools in Context", func(t tokens.Totals) int { return t.MaxToolsInContext })
	row("Tool Definition Tokens", func(t tokens.Totals) int { return t.ToolDefinitionTokens })
	p.Fprintf(tw, "Status\t%s\t%s\n", status(r.Traditional), status(r.Code))
	if s, ok := r.Savings(); ok {
		p.Fprintf(tw, "Code Mode Savings\t\t%.1f%%\n", s*100)
	}
	return tw.Flush()
}

func status(m ModeReport) string {
	switch {
	case !m.Ran():
		return "skipped"
	case m.Failed():
		return "failed"
	default:
		return "ok"
	}
}
