// Package memory keeps published completion events in process for local runs
// and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
)

// ErrInjected is returned for publishes failed via FailNext.
var ErrInjected = errors.New("injected publish failure")

// Publisher retains the most recent published messages.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	limit    int
	total    int
	failures int
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// New returns a Publisher that keeps at most limit messages, dropping the
// oldest first. A limit <= 0 keeps everything.
func New(limit int) *Publisher {
	return &Publisher{limit: limit}
}

// FailNext makes the next n publishes fail.
func (p *Publisher) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return "", ErrInjected
	}
	p.total++
	id := fmt.Sprintf("memory-%d", p.total)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = append(p.messages[:0:0], p.messages[len(p.messages)-p.limit:]...)
	}
	return id, nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// CompletionEvents returns the retained job completion events, oldest first.
func (p *Publisher) CompletionEvents() []jobs.CompletionEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []jobs.CompletionEvent
	for _, msg := range p.messages {
		if event, ok := msg.Payload.(jobs.CompletionEvent); ok {
			out = append(out, event)
		}
	}
	return out
}
