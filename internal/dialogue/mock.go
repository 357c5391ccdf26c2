package dialogue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/giuliaferri/doctalk/internal/emotion"
)

// MockService is a deterministic local fallback used when Gemini is not
// configured, and by tests.
type MockService struct {
	mu      sync.Mutex
	scripts []Reply
	calls   int
	fail    error
}

func NewMockService() *MockService { return &MockService{} }

// Script queues canned replies returned in order; once exhausted the mock
// falls back to an echo reply.
func (m *MockService) Script(replies ...Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, replies...)
}

// FailWith makes every subsequent call return err; nil restores normal replies.
func (m *MockService) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockService) Respond(_ context.Context, history []Message, utterance string, emo emotion.Context) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		return Reply{}, m.fail
	}
	if len(m.scripts) > 0 {
		reply := m.scripts[0]
		m.scripts = m.scripts[1:]
		return reply, nil
	}
	text := fmt.Sprintf("I hear you saying: %s. Could you tell me more?", strings.TrimSpace(utterance))
	if emo.Mismatch {
		text = fmt.Sprintf("You say %q, but you seem %s. How are you really feeling?",
			strings.TrimSpace(utterance), emo.FacialLabel)
	}
	return Reply{Text: text, FollowupNeeded: followupNeeded(text, len(history))}, nil
}

func (m *MockService) Summarize(_ context.Context, history []Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		return "", m.fail
	}
	return fmt.Sprintf("Consultation with %d exchanges.", len(history)), nil
}
