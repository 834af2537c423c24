package entity

import (
	"sync/atomic"

	"github.com/kiosk404/cohort/internal/pkg/errno"
)

// DefaultToolBudget is the per-task cap on tool calls.
const DefaultToolBudget = 5

// Budget counts the tool calls of one task. It is shared by every subtask
// of the task and safe for concurrent use.
type Budget struct {
	taskID   string
	limit    int
	attempts atomic.Int64
}

// NewBudget resumes a counter at used calls, e.g. after a restart.
func NewBudget(taskID string, limit, used int) *Budget {
	if limit <= 0 {
		limit = DefaultToolBudget
	}
	b := &Budget{taskID: taskID, limit: limit}
	b.attempts.Store(int64(used))
	return b
}

// Take claims one call. The attempt that exceeds the limit fails, and so
// does every attempt after it.
func (b *Budget) Take() error {
	n := b.attempts.Add(1)
	if n > int64(b.limit) {
		return &errno.ToolCallBudgetExceededError{TaskID: b.taskID, Limit: b.limit, Attempt: int(n)}
	}
	return nil
}

// Used is the number of granted calls.
func (b *Budget) Used() int {
	n := int(b.attempts.Load())
	if n > b.limit {
		return b.limit
	}
	return n
}

func (b *Budget) Limit() int { return b.limit }

// Remaining is the number of calls still grantable.
func (b *Budget) Remaining() int { return b.limit - b.Used() }
