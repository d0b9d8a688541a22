package dialog

import (
	"sync"
	"time"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

// Q4HRegistry holds outstanding Human Questions (§3 Q4H) keyed by dialog.
// Both the Sub-dialog Manager's idle-state check and the Diligence Budget's
// budget-exhaustion sentinel read and write through this registry.
type Q4HRegistry struct {
	mu   sync.RWMutex
	byID map[string][]entity.HumanQuestion // dialogID -> outstanding questions
}

func NewQ4HRegistry() *Q4HRegistry {
	return &Q4HRegistry{byID: make(map[string][]entity.HumanQuestion)}
}

// Append records a newly asked question against dialogID.
func (r *Q4HRegistry) Append(dialogID string, q entity.HumanQuestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[dialogID] = append(r.byID[dialogID], q)
}

// HasPending reports whether dialogID has any unanswered question.
func (r *Q4HRegistry) HasPending(dialogID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, q := range r.byID[dialogID] {
		if !q.Answered() {
			return true
		}
	}
	return false
}

// Pending lists the unanswered questions for dialogID.
func (r *Q4HRegistry) Pending(dialogID string) []entity.HumanQuestion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []entity.HumanQuestion
	for _, q := range r.byID[dialogID] {
		if !q.Answered() {
			out = append(out, q)
		}
	}
	return out
}

// Answer marks questionID on dialogID as answered.
func (r *Q4HRegistry) Answer(dialogID, questionID, answer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, q := range r.byID[dialogID] {
		if q.ID == questionID {
			now := time.Now()
			q.Answer = answer
			q.AnsweredAt = &now
			r.byID[dialogID][i] = q
			return true
		}
	}
	return false
}

// AnswerByID marks questionID as answered without the caller knowing which
// dialog raised it, for the `answer <q4hId> <text>` operator command, and
// returns the dialog it belonged to.
func (r *Q4HRegistry) AnswerByID(questionID, answer string) (dialogID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for dID, qs := range r.byID {
		for i, q := range qs {
			if q.ID == questionID {
				now := time.Now()
				q.Answer = answer
				q.AnsweredAt = &now
				r.byID[dID][i] = q
				return dID, true
			}
		}
	}
	return "", false
}
