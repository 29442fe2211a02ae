package run

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/codemode/registry"
)

func TestDispatch_GetTime(t *testing.T) {
	f := newTimeFixture(t)
	d := f.dispatcher(t)

	res, err := d.Dispatch(context.Background(), ToolCall{
		Server: "time",
		Tool:   "get_time",
		Args:   map[string]any{"city": "Amsterdam"},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.Structured != "12:00 in Amsterdam" || res.Text != "12:00 in Amsterdam" {
		t.Errorf("result = %+v", res)
	}
	if res.BackendKind != "local" {
		t.Errorf("BackendKind = %q, want local", res.BackendKind)
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("invocations = %d, want 1", n)
	}
}

func TestDispatch_ByFunctionName(t *testing.T) {
	f := newTimeFixture(t)
	d := f.dispatcher(t)

	tests := []struct {
		name string
		call string
	}{
		{"function name", "time_get_time"},
		{"tool id", "time:get_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Dispatch(context.Background(), ToolCall{Name: tt.call, Args: map[string]any{"city": "Oslo"}})
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if res.Server != "time" || res.Tool != "get_time" {
				t.Errorf("resolved %s:%s", res.Server, res.Tool)
			}
		})
	}

	res, err := d.Dispatch(context.Background(), ToolCall{Name: "sqlite_db_list_tables"})
	if err != nil {
		t.Fatalf("Dispatch(sqlite_db_list_tables) error = %v", err)
	}
	if res.Server != "sqlite_db" || res.Text != `["users"]` {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatch_Validation(t *testing.T) {
	f := newTimeFixture(t)
	d := f.dispatcher(t)

	tests := []struct {
		name      string
		tool      string
		args      map[string]any
		wantField string
	}{
		{"missing required", "get_time", map[string]any{}, "city"},
		{"unknown field", "get_time", map[string]any{"city": "Paris", "zone": "CET"}, "zone"},
		{"wrong type", "get_time", map[string]any{"city": 42}, "city"},
		{"schema constraint", "get_time", map[string]any{"city": ""}, "city"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), ToolCall{Server: "time", Tool: tt.tool, Args: tt.args})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Dispatch() error = %v, want ErrValidation", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.wantField {
				t.Errorf("ValidationError = %+v, want field %q", ve, tt.wantField)
			}
		})
	}
	if n := f.calls.Load(); n != 0 {
		t.Errorf("invalid calls reached the server %d times", n)
	}
}

func TestDispatch_NoParametersRejectsArguments(t *testing.T) {
	f := newTimeFixture(t)
	d := f.dispatcher(t)

	_, err := d.Dispatch(context.Background(), ToolCall{Server: "sqlite_db", Tool: "list_tables", Args: map[string]any{"bogus": 1}})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "bogus" || ve.Reason != "unknown field" {
		t.Fatalf("Dispatch() error = %v, want unknown field bogus", err)
	}
	if n := f.calls.Load(); n != 0 {
		t.Errorf("list_tables was invoked %d times", n)
	}

	if _, err := d.Dispatch(context.Background(), ToolCall{Server: "sqlite_db", Tool: "list_tables"}); err != nil {
		t.Errorf("Dispatch() without arguments error = %v", err)
	}
}

func TestDispatch_AdditionalPropertiesAllowed(t *testing.T) {
	f := newTimeFixture(t)
	d := f.dispatcher(t)
	if _, err := d.Dispatch(context.Background(), ToolCall{Server: "time", Tool: "echo", Args: map[string]any{"msg": "hi", "extra": 1}}); err != nil {
		t.Errorf("Dispatch() error = %v", err)
	}
}

func TestDispatch_ValidationDisabled(t *testing.T) {
	f := newTimeFixture(t)
	d := f.dispatcher(t, WithValidation(false))
	_, err := d.Dispatch(context.Background(), ToolCall{Server: "time", Tool: "get_time", Args: map[string]any{"city": "Rome", "zone": "x"}})
	if err != nil {
		t.Errorf("Dispatch() error = %v", err)
	}
}

func TestDispatch_NotFound(t *testing.T) {
	f := newTimeFixture(t)
	d := f.dispatcher(t)

	for _, call := range []ToolCall{
		{Server: "time", Tool: "nope"},
		{Server: "nope", Tool: "get_time"},
		{Name: "time_nope"},
	} {
		if _, err := d.Dispatch(context.Background(), call); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("Dispatch(%+v) error = %v, want ErrNotFound", call, err)
		}
	}
	if _, err := d.Dispatch(context.Background(), ToolCall{}); !errors.Is(err, ErrInvalidCall) {
		t.Errorf("Dispatch(empty) error = %v, want ErrInvalidCall", err)
	}
}

func TestDispatch_ToolFailure(t *testing.T) {
	f := newTimeFixture(t)
	d := f.dispatcher(t)

	_, err := d.Dispatch(context.Background(), ToolCall{Server: "time", Tool: "fail"})
	if !errors.Is(err, ErrToolInvocation) {
		t.Fatalf("Dispatch() error = %v, want ErrToolInvocation", err)
	}
	var te *ToolError
	if !errors.As(err, &te) || te.Server != "time" || te.Tool != "fail" || te.BackendKind != "local" {
		t.Errorf("ToolError = %+v", te)
	}
}

func TestNewDispatcher_Errors(t *testing.T) {
	f := newTimeFixture(t)
	if _, err := NewDispatcher(nil, WithInvoker(f.agg)); !errors.Is(err, registry.ErrNoSnapshot) {
		t.Errorf("NewDispatcher(nil) error = %v", err)
	}
	if _, err := NewDispatcher(f.snap); err == nil {
		t.Error("NewDispatcher() without invoker expected error")
	}
}

func TestDefinitions(t *testing.T) {
	f := newTimeFixture(t)
	defs := Definitions(f.snap)
	if len(defs) != f.snap.Len() {
		t.Fatalf("len(Definitions) = %d, want %d", len(defs), f.snap.Len())
	}
	if defs[0].Type != "function" || defs[0].Function.Name != "time_get_time" {
		t.Errorf("defs[0] = %+v", defs[0])
	}
	if defs[len(defs)-1].Function.Name != "sqlite_db_list_tables" {
		t.Errorf("last def = %+v", defs[len(defs)-1])
	}
	if defs[0].Function.Parameters["type"] != "object" {
		t.Errorf("parameters = %v", defs[0].Function.Parameters)
	}
}

func TestFlattenText(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"plain", "plain"},
		{map[string]any{"a": 1}, `{"a":1}`},
		{[]any{"x"}, `["x"]`},
	}
	for _, tt := range tests {
		if got := FlattenText(tt.in); got != tt.want {
			t.Errorf("FlattenText(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
