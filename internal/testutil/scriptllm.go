package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/mubot/mu/internal/chat"
)

// ScriptStep is one scripted provider call: the deltas streamed through the
// callback, then either an error or a reply.
type ScriptStep struct {
	Deltas []string      // streamed before the call settles
	Reply  chat.LLMReply // returned when Err is nil
	Err    error         // returned after Deltas are delivered
}

// ScriptLLM plays back scripted provider calls in order and records every
// request it receives, so tests can assert exactly what reached the
// provider on each call.
//
// Thread-safe for concurrent use.
type ScriptLLM struct {
	mu    sync.Mutex
	steps []ScriptStep
	calls []chat.LLMRequest
}

// NewScriptLLM creates a ScriptLLM that serves the given steps in order.
// A call beyond the script returns an error.
func NewScriptLLM(steps ...ScriptStep) *ScriptLLM {
	return &ScriptLLM{steps: steps}
}

// Generate implements chat.LLMClient.
func (s *ScriptLLM) Generate(ctx context.Context, req chat.LLMRequest, onDelta chat.StreamCallback) (chat.LLMReply, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return chat.LLMReply{}, errors.New("scriptllm: no scripted steps remaining")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	for _, d := range step.Deltas {
		if onDelta != nil {
			if err := onDelta(ctx, d); err != nil {
				return chat.LLMReply{}, err
			}
		}
	}

	if step.Err != nil {
		return chat.LLMReply{}, step.Err
	}

	reply := step.Reply
	if reply.Text == "" && len(step.Deltas) > 0 {
		reply.Text = strings.Join(step.Deltas, "")
	}
	return reply, nil
}

// Calls returns a copy of every request received so far.
func (s *ScriptLLM) Calls() []chat.LLMRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]chat.LLMRequest, len(s.calls))
	copy(cp, s.calls)
	return cp
}

// Remaining reports how many scripted steps are left unused.
func (s *ScriptLLM) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
