package workflow

import "strings"

// Request is one transition requested by a role-bearing actor.
type Request struct {
	Action Action
	Step   Step
	Role   Role
	// Reason carries the rejection reason, review opinions or change-request comments.
	Reason string
	// Target is the step reopened by a CEO change request.
	Target Step
}

// Change is a single step status mutation produced by a transition.
type Change struct {
	Step Step       `json:"step"`
	From StepStatus `json:"from"`
	To   StepStatus `json:"to"`
}

// Outcome is the result of a legal transition.
type Outcome struct {
	Before  Snapshot
	After   Snapshot
	Changes []Change
}

// Machine decides the legality of transitions against a Graph. It holds no
// state and never mutates its input snapshot.
type Machine struct {
	Graph *Graph
}

func NewMachine(g *Graph) Machine {
	if g == nil {
		g = DefaultGraph()
	}
	return Machine{Graph: g}
}

func (m Machine) graph() *Graph {
	if m.Graph == nil {
		return DefaultGraph()
	}
	return m.Graph
}

func (m Machine) CanEnterStep(s Snapshot, step Step) bool {
	return CanEnterStep(m.graph(), s, step)
}

func (m Machine) State(s Snapshot) State {
	return ComputeStepState(m.graph(), s)
}

func (m Machine) Draft(s Snapshot, step Step, role Role) (Outcome, error) {
	return m.Apply(s, Request{Action: ActionDraft, Step: step, Role: role})
}

func (m Machine) Submit(s Snapshot, step Step, role Role) (Outcome, error) {
	return m.Apply(s, Request{Action: ActionSubmit, Step: step, Role: role})
}

func (m Machine) Approve(s Snapshot, step Step, role Role) (Outcome, error) {
	return m.Apply(s, Request{Action: ActionApprove, Step: step, Role: role})
}

func (m Machine) Reject(s Snapshot, step Step, role Role, reason string) (Outcome, error) {
	return m.Apply(s, Request{Action: ActionReject, Step: step, Role: role, Reason: reason})
}

func (m Machine) Review(s Snapshot, role Role, opinions string) (Outcome, error) {
	return m.Apply(s, Request{Action: ActionReview, Step: StepConsultantReview, Role: role, Reason: opinions})
}

func (m Machine) DecideApprove(s Snapshot, role Role) (Outcome, error) {
	return m.Apply(s, Request{Action: ActionDecideApprove, Step: StepCeoApproval, Role: role})
}

func (m Machine) DecideChanges(s Snapshot, role Role, target Step, comments string) (Outcome, error) {
	return m.Apply(s, Request{Action: ActionDecideChanges, Step: StepCeoApproval, Role: role, Target: target, Reason: comments})
}

func (m Machine) Lock(s Snapshot, role Role) (Outcome, error) {
	return m.Apply(s, Request{Action: ActionLock, Role: role})
}

// Apply validates req against s and returns the resulting snapshot. Checks run
// in a fixed order: lock, step, role, input, prerequisites, status table.
func (m Machine) Apply(s Snapshot, req Request) (Outcome, error) {
	g := m.graph()
	if s.Locked() {
		return Outcome{}, newError(ErrAlreadyLocked, req.Step, req.Action, "no further transitions are allowed")
	}
	step := req.Step
	if req.Action == ActionLock {
		step = g.Terminal()
	}
	def, ok := g.Lookup(step)
	if !ok {
		return Outcome{}, &TransitionError{Kind: ErrValidationFailed, Step: step, Action: req.Action, Detail: "unknown step", Fields: []string{"step"}}
	}
	if def.Terminal && req.Action != ActionLock {
		return Outcome{}, newError(ErrInvalidTransition, step, req.Action, "terminal step")
	}
	if !g.Allowed(step, req.Action, req.Role) {
		return Outcome{}, newError(ErrForbidden, step, req.Action, "role %q not permitted", req.Role)
	}
	if err := m.validateInput(step, req); err != nil {
		return Outcome{}, err
	}
	if err := m.checkPrerequisites(s, step, req); err != nil {
		return Outcome{}, err
	}

	next := s.Clone()
	var changes []Change
	apply := func(target Step, action Action) error {
		from := next.StatusOf(target)
		to, err := Transition(from, action)
		if err != nil {
			return newError(ErrInvalidTransition, target, action, "step is %s", from)
		}
		next.Steps[target] = to
		changes = append(changes, Change{Step: target, From: from, To: to})
		return nil
	}

	switch req.Action {
	case ActionLock:
		for _, ws := range g.WorkSteps() {
			if next.StatusOf(ws) == StatusLocked {
				continue
			}
			if err := apply(ws, ActionLock); err != nil {
				return Outcome{}, err
			}
		}
		next.Status = ProjectLocked
	case ActionDecideChanges:
		if err := apply(req.Target, ActionRequestChanges); err != nil {
			return Outcome{}, err
		}
		if err := apply(step, ActionDecideChanges); err != nil {
			return Outcome{}, err
		}
		next.Status = ProjectInProgress
	default:
		if err := apply(step, req.Action); err != nil {
			return Outcome{}, err
		}
		next.Status = ProjectInProgress
	}
	next.Current = CurrentStep(g, next)
	return Outcome{Before: s, After: next, Changes: changes}, nil
}

func (m Machine) validateInput(step Step, req Request) error {
	g := m.graph()
	switch req.Action {
	case ActionReject:
		if strings.TrimSpace(req.Reason) == "" {
			return &TransitionError{Kind: ErrValidationFailed, Step: step, Action: req.Action, Detail: "rejection reason is required", Fields: []string{"reason"}}
		}
	case ActionReview:
		if strings.TrimSpace(req.Reason) == "" {
			return &TransitionError{Kind: ErrValidationFailed, Step: step, Action: req.Action, Detail: "review opinions are required", Fields: []string{"opinions"}}
		}
	case ActionDecideChanges:
		if req.Target == "" {
			return &TransitionError{Kind: ErrValidationFailed, Step: step, Action: req.Action, Detail: "target step is required", Fields: []string{"target_step"}}
		}
		if !g.Reviewable(req.Target) {
			return &TransitionError{Kind: ErrValidationFailed, Step: req.Target, Action: req.Action, Detail: "step cannot be reopened by a change request", Fields: []string{"target_step"}}
		}
		if !g.Allowed(req.Target, ActionRequestChanges, req.Role) {
			return newError(ErrForbidden, req.Target, ActionRequestChanges, "role %q not permitted", req.Role)
		}
		if strings.TrimSpace(req.Reason) == "" {
			return &TransitionError{Kind: ErrValidationFailed, Step: step, Action: req.Action, Detail: "comments are required", Fields: []string{"comments"}}
		}
	}
	return nil
}

func (m Machine) checkPrerequisites(s Snapshot, step Step, req Request) error {
	g := m.graph()
	switch req.Action {
	case ActionDraft, ActionSubmit, ActionReview, ActionDecideApprove, ActionDecideChanges:
		if !CanEnterStep(g, s, step) {
			return newError(ErrPrerequisiteNotMet, step, req.Action, "earliest incomplete step is %s", CurrentStep(g, s))
		}
	case ActionLock:
		if s.StatusOf(StepCeoApproval) != StatusApproved {
			return newError(ErrPrerequisiteNotMet, step, req.Action, "%s is %s", StepCeoApproval, s.StatusOf(StepCeoApproval))
		}
		// a step rejected after the CEO approved reopens the chain
		if !CanEnterStep(g, s, StepCeoApproval) {
			return newError(ErrPrerequisiteNotMet, step, req.Action, "earliest incomplete step is %s", CurrentStep(g, s))
		}
	}
	return nil
}
