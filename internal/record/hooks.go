package record

import (
	"context"
	"fmt"
)

// Event names a lifecycle point.
type Event string

const (
	EventRetrieved   Event = "retrieved"
	EventSaving      Event = "saving"
	EventSaved       Event = "saved"
	EventCreating    Event = "creating"
	EventCreated     Event = "created"
	EventUpdating    Event = "updating"
	EventUpdated     Event = "updated"
	EventDeleting    Event = "deleting"
	EventDeleted     Event = "deleted"
	EventRestoring   Event = "restoring"
	EventRestored    Event = "restored"
	EventDuplicating Event = "duplicating"
	EventDuplicated  Event = "duplicated"
)

// Hook runs at a lifecycle event. A non-nil error aborts the operation
// that fired it and is returned to the caller.
type Hook func(ctx context.Context, r *Record) error

// Hooks maps events to hooks.
type Hooks map[Event]Hook

func (h Hooks) clone() Hooks {
	if len(h) == 0 {
		return nil
	}
	out := make(Hooks, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// fire runs the hook for ev. Instance hooks win; when a record has none at
// all, the registry's defaults for its table apply.
func (r *Record) fire(ctx context.Context, ev Event) error {
	var hook Hook
	if len(r.hooks) == 0 {
		hook = r.reg.defaultHook(r.table, ev)
	} else {
		hook = r.hooks[ev]
	}
	if hook == nil {
		return nil
	}
	if err := hook(ctx, r); err != nil {
		r.reg.logger.Debug("hook aborted operation",
			"table", r.table,
			"event", string(ev),
			"error", err)
		return fmt.Errorf("%s hook: %w", ev, err)
	}
	return nil
}
