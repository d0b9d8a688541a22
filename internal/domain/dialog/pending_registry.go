// Package dialog implements the Sub-dialog Manager (C7): creation of child
// dialogs for teammate tellask calls and delivery of their terminal answers
// back to the caller's tool-result slot.
package dialog

import (
	"sync"

	"github.com/dialogkernel/driver/internal/domain/entity"
)

// PendingRegistry holds the §3 "Pending Sub-dialog Record" set: one entry
// per dispatched teammate-tellask call whose child has not yet answered.
type PendingRegistry struct {
	mu         sync.RWMutex
	bySubdlg   map[string]entity.PendingSubdialog
	byCaller   map[string][]string // callerDialogID -> []subdialogID
}

func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{
		bySubdlg: make(map[string]entity.PendingSubdialog),
		byCaller: make(map[string][]string),
	}
}

// Put records a newly dispatched pending sub-dialog.
func (r *PendingRegistry) Put(rec entity.PendingSubdialog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySubdlg[rec.SubdialogID] = rec
	r.byCaller[rec.CallerDialogID] = append(r.byCaller[rec.CallerDialogID], rec.SubdialogID)
}

// Get looks up the pending record for a given child sub-dialog.
func (r *PendingRegistry) Get(subdialogID string) (entity.PendingSubdialog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.bySubdlg[subdialogID]
	return rec, ok
}

// Remove deletes the pending record once the child's answer has been
// delivered to the caller.
func (r *PendingRegistry) Remove(subdialogID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.bySubdlg[subdialogID]
	if !ok {
		return
	}
	delete(r.bySubdlg, subdialogID)
	siblings := r.byCaller[rec.CallerDialogID]
	for i, id := range siblings {
		if id == subdialogID {
			r.byCaller[rec.CallerDialogID] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
}

// ForCaller lists every outstanding pending record assigned to callerDialogID
// — used by the idle-state computer (C8) to decide blocked{waiting_for_subdialogs}.
func (r *PendingRegistry) ForCaller(callerDialogID string) []entity.PendingSubdialog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byCaller[callerDialogID]
	out := make([]entity.PendingSubdialog, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.bySubdlg[id])
	}
	return out
}

// FindByCallID locates the single pending record raised by a specific
// caller call site, used for targeted subdialogReplyTarget delivery (§4.6.1).
func (r *PendingRegistry) FindByCallID(callerDialogID, callID string) (entity.PendingSubdialog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.byCaller[callerDialogID] {
		if rec := r.bySubdlg[id]; rec.CallID == callID {
			return rec, true
		}
	}
	return entity.PendingSubdialog{}, false
}

// Count returns the total number of outstanding pending records, used by
// the Testable Properties invariant check (§8).
func (r *PendingRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySubdlg)
}
