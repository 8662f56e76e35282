package reconcile

import "context"

// DeletionQueue collects pending deletions in sync order and executes them
// in reverse, so tables synced last (the most dependent) are emptied first.
type DeletionQueue struct {
	pending []PendingDeletion
}

// Push appends p. Empty deletions are kept so Pending reflects every table.
func (q *DeletionQueue) Push(p PendingDeletion) {
	q.pending = append(q.pending, p)
}

// Pending returns the queued deletions in execution order.
func (q *DeletionQueue) Pending() []PendingDeletion {
	out := make([]PendingDeletion, 0, len(q.pending))
	for i := len(q.pending) - 1; i >= 0; i-- {
		out = append(out, q.pending[i])
	}
	return out
}

// Len returns the number of queued deletions.
func (q *DeletionQueue) Len() int { return len(q.pending) }

// Flush executes the queue last-in first-out. On error the failed deletion
// and everything queued before it stay in the queue.
func (q *DeletionQueue) Flush(ctx context.Context, r *Reconciler) error {
	for len(q.pending) > 0 {
		last := q.pending[len(q.pending)-1]
		if err := r.Delete(ctx, last); err != nil {
			return err
		}
		q.pending = q.pending[:len(q.pending)-1]
	}
	return nil
}
