// Package content supplies the prompt sets and spark lines that sessions
// consume. Generation is enrichment: callers fall back to the embedded decks
// or skip a spark when a generator fails.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/peer-scheduler/internal/persistence"
)

// ErrNoPrompts is returned when a generator produced nothing usable.
var ErrNoPrompts = errors.New("content: no prompts generated")

// Generator produces session content.
type Generator interface {
	// GeneratePrompts returns count prompts for topic.
	GeneratePrompts(ctx context.Context, topic string, count int) ([]persistence.Prompt, error)
	// GenerateSpark comments on two answers to the same question.
	GenerateSpark(ctx context.Context, question, answerA, answerB string) (string, error)
}

// validatePrompts keeps prompts that have a question and at least two
// distinct options, capped at count.
func validatePrompts(prompts []persistence.Prompt, count int) ([]persistence.Prompt, error) {
	valid := make([]persistence.Prompt, 0, len(prompts))
	for _, p := range prompts {
		if p.Question == "" || len(p.Options) < 2 {
			continue
		}
		seen := make(map[string]struct{}, len(p.Options))
		options := make([]string, 0, len(p.Options))
		for _, o := range p.Options {
			if _, dup := seen[o]; dup || o == "" {
				continue
			}
			seen[o] = struct{}{}
			options = append(options, o)
		}
		if len(options) < 2 {
			continue
		}
		valid = append(valid, persistence.Prompt{Question: p.Question, Options: options})
		if len(valid) == count {
			break
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoPrompts
	}
	if len(valid) < count {
		return nil, fmt.Errorf("%w: wanted %d, got %d", ErrNoPrompts, count, len(valid))
	}
	return valid, nil
}

func clonePrompts(prompts []persistence.Prompt) []persistence.Prompt {
	out := make([]persistence.Prompt, len(prompts))
	for i, p := range prompts {
		out[i] = persistence.Prompt{Question: p.Question, Options: append([]string(nil), p.Options...)}
	}
	return out
}
