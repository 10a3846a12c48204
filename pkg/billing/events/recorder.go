package events

import (
	"context"
	"sync"

	"subscription-billing-be/internal/entity"
	pkgEvents "subscription-billing-be/pkg/events"
)

// Recorder keeps published events in memory. Tests and DB_DRIVER=memory runs
// without brokers use it.
type Recorder struct {
	mu      sync.Mutex
	events  []pkgEvents.Event
	entries []*entity.LedgerEntry
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ctx context.Context, evt pkgEvents.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *Recorder) PublishLedger(ctx context.Context, entries ...*entity.LedgerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

func (r *Recorder) Entries() []*entity.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.LedgerEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
