package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonwraymond/codemode/code"
	"github.com/jonwraymond/codemode/run"
	"github.com/jonwraymond/codemode/runtime"
	"github.com/jonwraymond/codemode/tokens"
	"go.uber.org/zap"
)

// Observation texts for code-mode turns.
const (
	NoOutputObservation  = "Code executed successfully (no output)."
	ExecutionErrorPrefix = "Execution Error: "
	ToolErrorPrefix      = "Error: "
)

// CodeToolName is the single function a code-mode model is given.
const CodeToolName = "run_code"

// CodeDefinition is the tool list a code-mode model receives: one function
// that runs a snippet.
func CodeDefinition() run.Definition {
	return run.Definition{
		Type: "function",
		Function: run.FunctionDef{
			Name: CodeToolName,
			Description: "Executes a Starlark snippet in a sandbox. Use ls(path), cat(path), " +
				"search_tools(query) and describe_tool(id, level) to discover tools and " +
				"call_tool(server, tool, args) to invoke them.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code": map[string]any{"type": "string"},
				},
				"required": []any{"code"},
			},
		},
	}
}

var codeDefinitionTokens = func() int {
	n, _ := tokens.DefinitionCost([]run.Definition{CodeDefinition()})
	return n
}()

// Usage carries token counts reported by a model provider. A nil *Usage
// means the counts are estimated.
type Usage struct {
	InputTokens  int `json:"inputTokens" yaml:"input_tokens"`
	OutputTokens int `json:"outputTokens" yaml:"output_tokens"`
}

// Turn is the outcome of one session turn.
type Turn struct {
	ID   string      `json:"id"`
	Mode tokens.Mode `json:"mode"`

	// Observation is the text the model would read back.
	Observation string `json:"observation"`

	// Row is the tally row recorded for the turn.
	Row tokens.Row `json:"tokens"`

	// Dispatch is set for traditional turns that reached a tool.
	Dispatch *run.RunResult `json:"dispatch,omitempty"`

	// Code is set for code-mode turns.
	Code *code.ExecuteResult `json:"code,omitempty"`
}

// Session is one conversation. Turns are serialized; the context estimate
// grows with every prompt, model output and observation, the way a chat
// history does.
type Session struct {
	id   string
	exec *Exec

	mu      sync.Mutex
	turns   int
	history int
	globals *runtime.State
}

// NewSession starts a conversation with a fresh id.
func (e *Exec) NewSession() *Session {
	return &Session{id: uuid.NewString(), exec: e}
}

// PersistGlobals controls whether top-level definitions of a successful
// code-mode turn stay visible to the session's later turns. It is off by
// default; turning it off forgets everything carried so far. Carried values
// are frozen.
func (s *Session) PersistGlobals(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case on && s.globals == nil:
		s.globals = runtime.NewState()
	case !on:
		s.globals = nil
	}
}

// PersistsGlobals reports whether PersistGlobals is on.
func (s *Session) PersistsGlobals() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globals != nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Turns returns the number of completed turns.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// AddContext adds text the model reads on every following turn, such as
// the instruction or a system prompt.
func (s *Session) AddContext(text string) {
	s.mu.Lock()
	s.history += tokens.Estimate(text)
	s.mu.Unlock()
}

// Dispatch runs one traditional-mode turn: the model emitted call with every
// tool definition in context. A failed call still completes the turn; its
// error becomes the observation and is returned.
func (s *Session) Dispatch(ctx context.Context, call run.ToolCall, usage *Usage) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, release, err := s.exec.acquire()
	if err != nil {
		return Turn{}, err
	}
	defer release()

	turn := Turn{ID: s.nextTurnID(), Mode: tokens.ModeTraditional}
	res, callErr := st.dispatcher.Dispatch(ctx, call)
	if callErr != nil {
		turn.Observation = ToolErrorPrefix + callErr.Error()
	} else {
		turn.Dispatch = &res
		turn.Observation = res.Text
	}

	emitted, _ := json.Marshal(call)
	turn.Row = s.record(turn, st.snap.Len(), st.defTokens, string(emitted), usage)
	return turn, callErr
}

// ExecuteCode runs one code-mode turn: the model emitted src with only the
// code tool in context. The snippet's error, if any, is returned after the
// turn is recorded.
func (s *Session) ExecuteCode(ctx context.Context, src string, usage *Usage) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, release, err := s.exec.acquire()
	if err != nil {
		return Turn{}, err
	}
	defer release()

	turn := Turn{ID: s.nextTurnID(), Mode: tokens.ModeCode}
	res, execErr := st.executor.ExecuteCode(ctx, code.ExecuteParams{TurnID: turn.ID, Code: src, State: s.globals})
	turn.Code = &res
	turn.Observation = CodeObservation(res, execErr)

	turn.Row = s.record(turn, 1, codeDefinitionTokens, src, usage)
	return turn, execErr
}

func (s *Session) nextTurnID() string {
	return fmt.Sprintf("%s/%d", s.id, s.turns+1)
}

// record appends the turn's row and advances the history estimate. Callers
// hold s.mu.
func (s *Session) record(turn Turn, toolsInContext, defTokens int, emitted string, usage *Usage) tokens.Row {
	out := tokens.Estimate(emitted)
	row := tokens.Row{
		Turn:                 turn.ID,
		Mode:                 turn.Mode,
		InputTokens:          defTokens + s.history,
		OutputTokens:         out,
		ToolsInContext:       toolsInContext,
		ToolDefinitionTokens: defTokens,
	}
	if usage != nil {
		row.InputTokens = usage.InputTokens
		row.OutputTokens = usage.OutputTokens
	}
	if err := s.exec.tally.RecordRow(row); err != nil {
		s.exec.logger.Warn("token row rejected", zap.String("turn", turn.ID), zap.Error(err))
	}
	s.turns++
	s.history += out + tokens.Estimate(turn.Observation)
	return row
}

// CodeObservation renders a snippet outcome as the model reads it: the
// captured output, the structured value when nothing was printed, or the
// error.
func CodeObservation(res code.ExecuteResult, err error) string {
	if err != nil {
		msg := res.ErrorMessage
		if msg == "" {
			msg = err.Error()
		}
		return ExecutionErrorPrefix + msg
	}
	if res.Stdout != "" {
		return res.Stdout
	}
	if res.Value != nil {
		if data, err := json.Marshal(res.Value); err == nil {
			return string(data)
		}
		return fmt.Sprint(res.Value)
	}
	return NoOutputObservation
}
