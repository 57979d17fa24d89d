package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mubot/mu/internal/log"
)

func newTestExecutor(t *testing.T, reg *Registry, maxConcurrent int, timeout time.Duration) *Executor {
	t.Helper()
	exec, err := NewExecutor(ExecutorConfig{
		Registry:      reg,
		Logger:        log.NewNop(),
		MaxConcurrent: maxConcurrent,
		CallTimeout:   timeout,
	})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return exec
}

func TestNewExecutor_Validation(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(namedTool(t, "alpha"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewExecutor(ExecutorConfig{Logger: log.NewNop()}); err == nil {
		t.Error("NewExecutor() without registry should fail")
	}
	if _, err := NewExecutor(ExecutorConfig{Registry: reg}); err == nil {
		t.Error("NewExecutor() without logger should fail")
	}
}

func TestExecutor_EmptyBatch(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(namedTool(t, "alpha"))
	if err != nil {
		t.Fatal(err)
	}
	exec := newTestExecutor(t, reg, 0, 0)

	if got := exec.ExecuteAll(context.Background(), nil); got != nil {
		t.Errorf("ExecuteAll(nil) = %v, want nil", got)
	}
}

func TestExecutor_ResultsInRequestOrder(t *testing.T) {
	t.Parallel()

	echo, err := New("echo", "echo", func(ctx context.Context, in echoInput) (echoOutput, error) {
		// Later calls finish first so ordering cannot come from timing.
		time.Sleep(time.Duration(10-in.N) * time.Millisecond)
		return echoOutput{Echoed: in.Text}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := NewRegistry(echo)
	if err != nil {
		t.Fatal(err)
	}
	exec := newTestExecutor(t, reg, 8, 0)

	var calls []Call
	for i := 0; i < 6; i++ {
		calls = append(calls, Call{
			ID:   fmt.Sprintf("call-%d", i),
			Name: "echo",
			Args: json.RawMessage(fmt.Sprintf(`{"text":"t%d","n":%d}`, i, i)),
		})
	}

	invs := exec.ExecuteAll(context.Background(), calls)
	if len(invs) != len(calls) {
		t.Fatalf("got %d invocations, want %d", len(invs), len(calls))
	}
	for i, inv := range invs {
		if inv.Call.ID != calls[i].ID {
			t.Errorf("invs[%d].Call.ID = %q, want %q", i, inv.Call.ID, calls[i].ID)
		}
		if inv.Err != nil {
			t.Errorf("invs[%d].Err = %v, want nil", i, inv.Err)
		}
		var out echoOutput
		if err := json.Unmarshal(inv.Output, &out); err != nil {
			t.Fatalf("decoding invs[%d] output: %v", i, err)
		}
		if want := fmt.Sprintf("t%d", i); out.Echoed != want {
			t.Errorf("invs[%d] echoed %q, want %q", i, out.Echoed, want)
		}
	}
}

func TestExecutor_UnknownToolSettlesAsError(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(namedTool(t, "known"))
	if err != nil {
		t.Fatal(err)
	}
	exec := newTestExecutor(t, reg, 0, 0)

	invs := exec.ExecuteAll(context.Background(), []Call{
		{ID: "1", Name: "known"},
		{ID: "2", Name: "missing"},
	})

	if invs[0].Err != nil {
		t.Errorf("known tool Err = %v, want nil", invs[0].Err)
	}
	if !errors.Is(invs[1].Err, ErrUnknownTool) {
		t.Errorf("missing tool Err = %v, want ErrUnknownTool", invs[1].Err)
	}
}

func TestExecutor_HandlerErrorBecomesExecutionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	failing, err := New("failing", "always fails", func(ctx context.Context, in struct{}) (struct{}, error) {
		return struct{}{}, boom
	})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := NewRegistry(failing)
	if err != nil {
		t.Fatal(err)
	}
	exec := newTestExecutor(t, reg, 0, 0)

	invs := exec.ExecuteAll(context.Background(), []Call{{ID: "1", Name: "failing"}})

	var execErr *ExecutionError
	if !errors.As(invs[0].Err, &execErr) {
		t.Fatalf("Err = %v, want *ExecutionError", invs[0].Err)
	}
	if execErr.Stage != "execute" {
		t.Errorf("Stage = %q, want %q", execErr.Stage, "execute")
	}
	if !errors.Is(invs[0].Err, boom) {
		t.Error("wrapped handler error should be reachable with errors.Is")
	}
}

func TestExecutor_TimeoutStage(t *testing.T) {
	t.Parallel()

	slow, err := New("slow", "sleeps past the deadline", func(ctx context.Context, in struct{}) (struct{}, error) {
		select {
		case <-time.After(5 * time.Second):
			return struct{}{}, nil
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := NewRegistry(slow)
	if err != nil {
		t.Fatal(err)
	}
	exec := newTestExecutor(t, reg, 0, 30*time.Millisecond)

	invs := exec.ExecuteAll(context.Background(), []Call{{ID: "1", Name: "slow"}})

	var execErr *ExecutionError
	if !errors.As(invs[0].Err, &execErr) {
		t.Fatalf("Err = %v, want *ExecutionError", invs[0].Err)
	}
	if execErr.Stage != "timeout" {
		t.Errorf("Stage = %q, want %q", execErr.Stage, "timeout")
	}
}

func TestExecutor_PanicRecovered(t *testing.T) {
	t.Parallel()

	panicky, err := New("panicky", "panics", func(ctx context.Context, in struct{}) (struct{}, error) {
		panic("unexpected state")
	})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := NewRegistry(panicky, namedTool(t, "calm"))
	if err != nil {
		t.Fatal(err)
	}
	exec := newTestExecutor(t, reg, 0, 0)

	invs := exec.ExecuteAll(context.Background(), []Call{
		{ID: "1", Name: "panicky"},
		{ID: "2", Name: "calm"},
	})

	var execErr *ExecutionError
	if !errors.As(invs[0].Err, &execErr) {
		t.Fatalf("Err = %v, want *ExecutionError", invs[0].Err)
	}
	if execErr.Stage != "panic" {
		t.Errorf("Stage = %q, want %q", execErr.Stage, "panic")
	}
	if invs[1].Err != nil {
		t.Errorf("sibling call Err = %v, want nil", invs[1].Err)
	}
}

func TestExecutor_RespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var current, peak atomic.Int32
	counting, err := New("counting", "tracks concurrency", func(ctx context.Context, in struct{}) (struct{}, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := NewRegistry(counting)
	if err != nil {
		t.Fatal(err)
	}
	exec := newTestExecutor(t, reg, 2, 0)

	var calls []Call
	for i := 0; i < 8; i++ {
		calls = append(calls, Call{ID: fmt.Sprintf("%d", i), Name: "counting"})
	}
	invs := exec.ExecuteAll(context.Background(), calls)

	for i, inv := range invs {
		if inv.Err != nil {
			t.Errorf("invs[%d].Err = %v", i, inv.Err)
		}
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestExecutor_CanceledContext(t *testing.T) {
	t.Parallel()

	waiting, err := New("waiting", "waits for ctx", func(ctx context.Context, in struct{}) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := NewRegistry(waiting)
	if err != nil {
		t.Fatal(err)
	}
	exec := newTestExecutor(t, reg, 0, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	invs := exec.ExecuteAll(ctx, []Call{{ID: "1", Name: "waiting"}})
	if !errors.Is(invs[0].Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", invs[0].Err)
	}
	if invs[0].Elapsed <= 0 {
		t.Error("Elapsed should be recorded even on failure")
	}
}
