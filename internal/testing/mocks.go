package testing

import (
	"sync"

	"github.com/rnrl/matchengine/internal/modules/matching"
)

// MockMatchScheduler records Enqueue calls instead of running the real
// matching.Engine, for app package tests that only need to
// assert a work item was scheduled.
type MockMatchScheduler struct {
	mu    sync.Mutex
	Calls []MockScheduleCall
}

// MockScheduleCall captures one MockMatchScheduler.Enqueue invocation.
type MockScheduleCall struct {
	SubjectType matching.SubjectType
	SubjectID   string
	Priority    matching.Priority
}

func NewMockMatchScheduler() *MockMatchScheduler {
	return &MockMatchScheduler{}
}

func (m *MockMatchScheduler) Enqueue(subjectType matching.SubjectType, subjectID string, priority matching.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockScheduleCall{SubjectType: subjectType, SubjectID: subjectID, Priority: priority})
}

// Len returns the number of recorded Enqueue calls.
func (m *MockMatchScheduler) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
