package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	titleTimeout   = 5 * time.Second
	titleInputMax  = 500 // runes of user message offered to the model
	titleMaxLength = 100 // runes kept of the generated title
)

const titleSystemPrompt = "Generate a short title (at most six words) summarizing the " +
	"user's message. Reply with the title only: no quotes, no trailing " +
	"punctuation, same language as the message."

// GenerateTitle produces a short conversation title from the first user
// message. Best effort: on failure the caller keeps its default title.
func (e *Engine) GenerateTitle(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	if runes := []rune(message); len(runes) > titleInputMax {
		message = string(runes[:titleInputMax])
	}

	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}

	reply, err := e.llm.Generate(ctx, LLMRequest{
		System:   titleSystemPrompt,
		Messages: []Message{{Role: RoleUser, Content: message}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	title := strings.Trim(strings.TrimSpace(reply.Text), `"`)
	if title == "" {
		return "", errors.New("provider returned empty title")
	}
	if runes := []rune(title); len(runes) > titleMaxLength {
		title = string(runes[:titleMaxLength-3]) + "..."
	}
	return title, nil
}
