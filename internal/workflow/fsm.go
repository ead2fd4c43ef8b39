package workflow

import "fmt"

type transitionKey struct {
	from   StepStatus
	action Action
}

// transitions is the complete step status table. Any pair absent here is illegal.
var transitions = map[transitionKey]StepStatus{
	{StatusNotStarted, ActionDraft}: StatusInProgress,
	{StatusInProgress, ActionDraft}: StatusInProgress,
	{StatusRejected, ActionDraft}:   StatusInProgress,

	{StatusNotStarted, ActionSubmit}: StatusSubmitted,
	{StatusInProgress, ActionSubmit}: StatusSubmitted,
	{StatusRejected, ActionSubmit}:   StatusSubmitted,

	{StatusSubmitted, ActionApprove}: StatusApproved,

	{StatusSubmitted, ActionReject}: StatusRejected,
	{StatusApproved, ActionReject}:  StatusRejected,

	{StatusSubmitted, ActionRequestChanges}: StatusInProgress,
	{StatusApproved, ActionRequestChanges}:  StatusInProgress,

	// consultant reviews append; a repeat review keeps the step submitted
	{StatusNotStarted, ActionReview}: StatusSubmitted,
	{StatusInProgress, ActionReview}: StatusSubmitted,
	{StatusSubmitted, ActionReview}:  StatusSubmitted,
	{StatusRejected, ActionReview}:   StatusSubmitted,

	{StatusNotStarted, ActionDecideApprove}: StatusApproved,
	{StatusInProgress, ActionDecideApprove}: StatusApproved,
	{StatusRejected, ActionDecideApprove}:   StatusApproved,

	{StatusNotStarted, ActionDecideChanges}: StatusRejected,
	{StatusInProgress, ActionDecideChanges}: StatusRejected,
	{StatusRejected, ActionDecideChanges}:   StatusRejected,

	{StatusSubmitted, ActionLock}: StatusLocked,
	{StatusApproved, ActionLock}:  StatusLocked,
}

// Transition applies action to a step in status from.
func Transition(from StepStatus, action Action) (StepStatus, error) {
	to, ok := transitions[transitionKey{from, action}]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, from)
	}
	return to, nil
}

// CanTransition reports whether action is legal from status.
func CanTransition(from StepStatus, action Action) bool {
	_, ok := transitions[transitionKey{from, action}]
	return ok
}
