package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type echoInput struct {
	Text string `json:"text" jsonschema:"Text to echo back"`
	N    int    `json:"n,omitempty" jsonschema:"Repeat count"`
}

type echoOutput struct {
	Echoed string `json:"echoed"`
}

func newEchoTool(t *testing.T) Handler {
	t.Helper()
	h, err := New("echo", "Echo text back.", func(ctx context.Context, in echoInput) (echoOutput, error) {
		n := in.N
		if n <= 0 {
			n = 1
		}
		return echoOutput{Echoed: strings.TrimSpace(strings.Repeat(in.Text+" ", n))}, nil
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func TestNew_RequiresName(t *testing.T) {
	t.Parallel()

	_, err := New("", "no name", func(ctx context.Context, in echoInput) (echoOutput, error) {
		return echoOutput{}, nil
	})
	if err == nil {
		t.Error("New() with empty name should fail")
	}
}

func TestNew_DeclarationCarriesSchema(t *testing.T) {
	t.Parallel()

	decl := newEchoTool(t).Declaration()

	if decl.Name != "echo" {
		t.Errorf("Name = %q, want %q", decl.Name, "echo")
	}
	if decl.Description == "" {
		t.Error("Description is empty")
	}
	if decl.InputSchema == nil {
		t.Fatal("InputSchema is nil")
	}
	if _, ok := decl.InputSchema.Properties["text"]; !ok {
		t.Error("InputSchema is missing the text property")
	}
}

func TestHandler_ExecuteRoundTrip(t *testing.T) {
	t.Parallel()

	h := newEchoTool(t)

	raw, err := h.Execute(context.Background(), json.RawMessage(`{"text":"hi","n":2}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var out echoOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if want := "hi hi"; out.Echoed != want {
		t.Errorf("Echoed = %q, want %q", out.Echoed, want)
	}
}

func TestHandler_ExecuteEmptyArgs(t *testing.T) {
	t.Parallel()

	h := newEchoTool(t)

	raw, err := h.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var out echoOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if out.Echoed != "" {
		t.Errorf("Echoed = %q, want empty for zero input", out.Echoed)
	}
}

func TestHandler_ExecuteMalformedArgs(t *testing.T) {
	t.Parallel()

	h := newEchoTool(t)

	_, err := h.Execute(context.Background(), json.RawMessage(`{"text":42}`))
	if err == nil {
		t.Fatal("Execute() with mistyped arguments should fail")
	}
	if !strings.Contains(err.Error(), "decode") {
		t.Errorf("error = %v, want mention of decoding", err)
	}
}

func TestInvocation_Payload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		inv  Invocation
		want map[string]string
		raw  string
	}{
		{
			name: "success passes output through",
			inv:  Invocation{Output: json.RawMessage(`{"ok":true}`)},
			raw:  `{"ok":true}`,
		},
		{
			name: "empty output becomes empty object",
			inv:  Invocation{},
			raw:  `{}`,
		},
		{
			name: "error becomes structured payload",
			inv: Invocation{
				Call: Call{Name: "weather"},
				Err:  errors.New("upstream timeout"),
			},
			want: map[string]string{"tool": "weather", "error": "upstream timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.inv.Payload()
			if tt.raw != "" {
				if string(got) != tt.raw {
					t.Errorf("Payload() = %s, want %s", got, tt.raw)
				}
				return
			}

			var decoded map[string]string
			if err := json.Unmarshal(got, &decoded); err != nil {
				t.Fatalf("decoding payload: %v", err)
			}
			for k, want := range tt.want {
				if decoded[k] != want {
					t.Errorf("payload[%q] = %q, want %q", k, decoded[k], want)
				}
			}
		})
	}
}

func TestExecutionError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := &ExecutionError{Tool: "echo", Stage: "execute", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should reach the wrapped error")
	}
	if !strings.Contains(err.Error(), "echo") || !strings.Contains(err.Error(), "execute") {
		t.Errorf("Error() = %q, want tool name and stage", err.Error())
	}
}
