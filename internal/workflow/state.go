package workflow

// Snapshot is the workflow view of a project record.
type Snapshot struct {
	Status  ProjectStatus
	Current Step
	Steps   map[Step]StepStatus
}

// NewSnapshot returns a fresh project snapshot with every step not started.
func NewSnapshot(g *Graph) Snapshot {
	s := Snapshot{
		Status:  ProjectNotStarted,
		Current: g.WorkSteps()[0],
		Steps:   make(map[Step]StepStatus),
	}
	for _, step := range g.WorkSteps() {
		s.Steps[step] = StatusNotStarted
	}
	return s
}

func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Status: s.Status, Current: s.Current, Steps: make(map[Step]StepStatus, len(s.Steps))}
	for k, v := range s.Steps {
		out.Steps[k] = v
	}
	return out
}

// StatusOf returns the status of step, defaulting to not_started.
func (s Snapshot) StatusOf(step Step) StepStatus {
	if st, ok := s.Steps[step]; ok && st != "" {
		return st
	}
	return StatusNotStarted
}

func (s Snapshot) Locked() bool { return s.Status == ProjectLocked }

// StepView is the derived state of one step for rendering.
type StepView struct {
	Step      Step       `json:"step"`
	Status    StepStatus `json:"status"`
	Enterable bool       `json:"enterable"`
	Current   bool       `json:"current"`
}

// State is the complete derived gating state of a project.
type State struct {
	ProjectStatus ProjectStatus `json:"project_status"`
	Current       Step          `json:"current_step"`
	Steps         []StepView    `json:"steps"`
}

// Step returns the view for step.
func (st State) Step(step Step) (StepView, bool) {
	for _, v := range st.Steps {
		if v.Step == step {
			return v, true
		}
	}
	return StepView{}, false
}

// ComputeStepState derives the lock/unlock state of every step. It is the only
// place gating rules are evaluated for display.
func ComputeStepState(g *Graph, s Snapshot) State {
	current := CurrentStep(g, s)
	st := State{ProjectStatus: s.Status, Current: current}
	for _, step := range g.Steps() {
		d, _ := g.Lookup(step)
		v := StepView{Step: step, Current: step == current}
		if d.Terminal {
			v.Status = StatusNotStarted
			if s.Locked() {
				v.Status = StatusLocked
			}
			v.Enterable = s.Locked()
		} else {
			v.Status = s.StatusOf(step)
			v.Enterable = !s.Locked() && CanEnterStep(g, s, step)
		}
		st.Steps = append(st.Steps, v)
	}
	return st
}

// CurrentStep returns the earliest incomplete gate, or the terminal step once locked.
func CurrentStep(g *Graph, s Snapshot) Step {
	if s.Locked() {
		return g.Terminal()
	}
	work := g.WorkSteps()
	for _, step := range work {
		if step == StepCeoPhilosophy {
			// folded into the diagnosis gate
			continue
		}
		if !stepDone(s, step) {
			return step
		}
	}
	return work[len(work)-1]
}

// CanEnterStep reports whether every step in the predecessor chain of step is complete.
func CanEnterStep(g *Graph, s Snapshot, step Step) bool {
	d, ok := g.Lookup(step)
	if !ok {
		return false
	}
	for _, req := range d.Requires {
		if !requirementMet(s, step, req) {
			return false
		}
		if !CanEnterStep(g, s, req) {
			return false
		}
	}
	return true
}

// DiagnosisGateComplete reports whether both halves of the diagnosis gate hold:
// the diagnosis is submitted and the CEO philosophy survey is completed.
func DiagnosisGateComplete(s Snapshot) bool {
	return s.StatusOf(StepDiagnosis).Complete() && s.StatusOf(StepCeoPhilosophy).Complete()
}

func requirementMet(s Snapshot, step, req Step) bool {
	// The CEO survey itself only needs the diagnosis submitted; every other
	// dependant of diagnosis needs the full two-stage gate.
	if req == StepDiagnosis && step != StepCeoPhilosophy {
		return DiagnosisGateComplete(s)
	}
	return s.StatusOf(req).Complete()
}

func stepDone(s Snapshot, step Step) bool {
	if step == StepDiagnosis {
		return DiagnosisGateComplete(s)
	}
	return s.StatusOf(step).Complete()
}
