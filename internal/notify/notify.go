// Package notify delivers workflow notifications outside the committing
// transaction. Delivery failures are reported to the caller's logger and
// never roll back state.
package notify

import (
	"context"
	"errors"
	"strings"
)

const (
	EventProjectLocked       = "project.locked"
	EventStepSubmitted       = "step.submitted"
	EventStepRejected        = "step.rejected"
	EventChangesRequested    = "project.changes_requested"
	EventCeoRoleRequested    = "ceo_role.requested"
	EventCeoRoleApproved     = "ceo_role.approved"
	EventCeoRoleRejected     = "ceo_role.rejected"
	EventConsultantReviewed  = "consultant_review.recorded"
	EventCeoDecisionRecorded = "ceo_decision.recorded"
)

// Notification is addressed to one user.
type Notification struct {
	Event       string         `json:"event"`
	ProjectID   string         `json:"project_id,omitempty"`
	RecipientID string         `json:"recipient_id"`
	Email       string         `json:"email,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	At          string         `json:"at"`
}

// Dispatcher delivers a notification. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, n Notification) error {
	var errs []error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a plain function to Dispatcher.
type Func func(ctx context.Context, n Notification) error

func (f Func) Dispatch(ctx context.Context, n Notification) error { return f(ctx, n) }

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
