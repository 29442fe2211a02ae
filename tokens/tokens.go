package tokens

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNegative is returned when a row carries a negative count.
var ErrNegative = errors.New("tokens: negative count")

// Mode names the tool-access mode a turn ran under.
type Mode string

const (
	// ModeTraditional places every tool definition in the model context.
	ModeTraditional Mode = "traditional"
	// ModeCode gives the model a sandbox and the discovery tree instead.
	ModeCode Mode = "code"
)

// Row is one recorded turn.
type Row struct {
	Turn                 string `json:"turn"`
	Mode                 Mode   `json:"mode,omitempty"`
	InputTokens          int    `json:"inputTokens"`
	OutputTokens         int    `json:"outputTokens"`
	ToolsInContext       int    `json:"toolsInContext"`
	ToolDefinitionTokens int    `json:"toolDefinitionTokens,omitempty"`
}

// Total returns input plus output tokens.
func (r Row) Total() int {
	return r.InputTokens + r.OutputTokens
}

func (r Row) validate() error {
	switch {
	case r.InputTokens < 0:
		return fmt.Errorf("%w: input tokens %d", ErrNegative, r.InputTokens)
	case r.OutputTokens < 0:
		return fmt.Errorf("%w: output tokens %d", ErrNegative, r.OutputTokens)
	case r.ToolsInContext < 0:
		return fmt.Errorf("%w: tools in context %d", ErrNegative, r.ToolsInContext)
	case r.ToolDefinitionTokens < 0:
		return fmt.Errorf("%w: tool definition tokens %d", ErrNegative, r.ToolDefinitionTokens)
	}
	return nil
}

// Totals aggregates a set of rows.
type Totals struct {
	Turns                int `json:"turns"`
	InputTokens          int `json:"inputTokens"`
	OutputTokens         int `json:"outputTokens"`
	TotalTokens          int `json:"totalTokens"`
	ToolDefinitionTokens int `json:"toolDefinitionTokens"`
	// MaxToolsInContext is the largest tool count seen in any turn.
	MaxToolsInContext int `json:"maxToolsInContext"`
}

func (t *Totals) add(r Row) {
	t.Turns++
	t.InputTokens += r.InputTokens
	t.OutputTokens += r.OutputTokens
	t.TotalTokens += r.Total()
	t.ToolDefinitionTokens += r.ToolDefinitionTokens
	if r.ToolsInContext > t.MaxToolsInContext {
		t.MaxToolsInContext = r.ToolsInContext
	}
}

// Summary is the aggregate view of a tally.
type Summary struct {
	Totals Totals `json:"totals"`

	// Turns holds one entry per distinct turn id, in first-recorded order.
	// Rows recorded twice for the same turn are combined.
	Turns []TurnSummary `json:"turns"`

	// ByMode holds totals per mode. Rows without a mode are counted in
	// Totals only.
	ByMode map[Mode]Totals `json:"byMode,omitempty"`
}

// TurnSummary is the per-turn breakdown.
type TurnSummary struct {
	Turn           string `json:"turn"`
	Mode           Mode   `json:"mode,omitempty"`
	InputTokens    int    `json:"inputTokens"`
	OutputTokens   int    `json:"outputTokens"`
	TotalTokens    int    `json:"totalTokens"`
	ToolsInContext int    `json:"toolsInContext"`
}

// Modes returns the modes present in the summary, sorted.
func (s Summary) Modes() []Mode {
	out := make([]Mode, 0, len(s.ByMode))
	for m := range s.ByMode {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Accountant is an append-only token tally. It is safe for concurrent use.
type Accountant struct {
	mu   sync.Mutex
	rows []Row
}

// NewAccountant returns an empty tally.
func NewAccountant() *Accountant {
	return &Accountant{}
}

// Record appends a row without mode or definition cost.
func (a *Accountant) Record(turnID string, inputTokens, outputTokens, toolsInContext int) error {
	return a.RecordRow(Row{
		Turn:           turnID,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		ToolsInContext: toolsInContext,
	})
}

// RecordRow appends r. Rows with negative counts are rejected and leave the
// tally unchanged.
func (a *Accountant) RecordRow(r Row) error {
	if err := r.validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.rows = append(a.rows, r)
	a.mu.Unlock()
	return nil
}

// Rows returns a copy of the recorded rows in order.
func (a *Accountant) Rows() []Row {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Row(nil), a.rows...)
}

// Len returns the number of recorded rows.
func (a *Accountant) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

// Summarize aggregates the recorded rows.
func (a *Accountant) Summarize() Summary {
	return Summarize(a.Rows())
}

// Summarize aggregates rows. It does not modify rows.
func Summarize(rows []Row) Summary {
	s := Summary{Turns: []TurnSummary{}}
	pos := make(map[string]int)

	for _, r := range rows {
		s.Totals.add(r)

		if r.Mode != "" {
			if s.ByMode == nil {
				s.ByMode = make(map[Mode]Totals)
			}
			t := s.ByMode[r.Mode]
			t.add(r)
			s.ByMode[r.Mode] = t
		}

		key := string(r.Mode) + "\x00" + r.Turn
		i, ok := pos[key]
		if !ok {
			i = len(s.Turns)
			pos[key] = i
			s.Turns = append(s.Turns, TurnSummary{Turn: r.Turn, Mode: r.Mode})
		}
		ts := &s.Turns[i]
		ts.InputTokens += r.InputTokens
		ts.OutputTokens += r.OutputTokens
		ts.TotalTokens += r.Total()
		if r.ToolsInContext > ts.ToolsInContext {
			ts.ToolsInContext = r.ToolsInContext
		}
	}
	return s
}
