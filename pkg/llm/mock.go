package llm

import (
	"context"
	"errors"
	"sync"
)

// MockReply is a canned reply for MockGenerator.
type MockReply struct {
	Text string
	Err  error
}

// MockCall records one Generate invocation.
type MockCall struct {
	System      string
	User        string
	Temperature float64
}

// MockGenerator returns canned replies in FIFO order and records every call.
// When the queue is empty it falls back to Fallback, if set.
type MockGenerator struct {
	mu       sync.Mutex
	replies  []MockReply
	Calls    []MockCall
	Fallback func(system, user string) (string, error)
}

func NewMockGenerator(replies ...MockReply) *MockGenerator {
	return &MockGenerator{replies: replies}
}

func (m *MockGenerator) Generate(_ context.Context, system, user string, temperature float64) (string, error) {
	if err := ValidateTemperature(temperature); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{System: system, User: user, Temperature: temperature})

	if len(m.replies) == 0 {
		if m.Fallback != nil {
			return m.Fallback(system, user)
		}
		return "", &GenerationError{Kind: KindNetwork, Err: errors.New("mock: no replies queued")}
	}

	reply := m.replies[0]
	m.replies = m.replies[1:]
	if reply.Err != nil {
		return "", reply.Err
	}
	return reply.Text, nil
}

// CallCount returns the number of Generate calls made.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
