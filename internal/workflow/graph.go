package workflow

import "fmt"

// Step identifies one stage of the HR design process.
type Step string

const (
	StepDiagnosis        Step = "diagnosis"
	StepCeoPhilosophy    Step = "ceo_philosophy"
	StepOrganization     Step = "organization"
	StepPerformance      Step = "performance"
	StepCompensation     Step = "compensation"
	StepConsultantReview Step = "consultant_review"
	StepCeoApproval      Step = "ceo_approval"
	// StepDashboard is the terminal pseudo-step reported once a project is locked.
	StepDashboard Step = "dashboard"
)

// Action is a state-changing request against a step or the project.
type Action string

const (
	ActionDraft          Action = "draft"
	ActionSubmit         Action = "submit"
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionRequestChanges Action = "request_changes"
	ActionReview         Action = "review"
	ActionDecideApprove  Action = "decide_approve"
	ActionDecideChanges  Action = "decide_changes"
	ActionLock           Action = "lock"
)

// StepDef is the static definition of one step.
type StepDef struct {
	Step     Step
	Requires []Step
	// Payload names the step payload entity the step owns, empty if none.
	Payload      string
	Capabilities map[Action][]Role
	Terminal     bool
}

// Graph is the read-only step definition consulted by Machine.
type Graph struct {
	defs  []StepDef
	index map[Step]int
}

var defaultGraph = NewGraph([]StepDef{
	{
		Step:    StepDiagnosis,
		Payload: "diagnosis",
		Capabilities: map[Action][]Role{
			ActionDraft:          {RoleHRManager},
			ActionSubmit:         {RoleHRManager},
			ActionApprove:        {RoleConsultant, RoleCEO},
			ActionReject:         {RoleConsultant, RoleCEO},
			ActionRequestChanges: {RoleCEO},
		},
	},
	{
		Step:     StepCeoPhilosophy,
		Requires: []Step{StepDiagnosis},
		Payload:  "ceo_philosophy",
		Capabilities: map[Action][]Role{
			ActionDraft:  {RoleCEO},
			ActionSubmit: {RoleCEO},
		},
	},
	{
		Step:     StepOrganization,
		Requires: []Step{StepDiagnosis},
		Payload:  "organization_design",
		Capabilities: map[Action][]Role{
			ActionDraft:          {RoleHRManager},
			ActionSubmit:         {RoleHRManager},
			ActionApprove:        {RoleConsultant, RoleCEO},
			ActionReject:         {RoleConsultant, RoleCEO},
			ActionRequestChanges: {RoleCEO},
		},
	},
	{
		Step:     StepPerformance,
		Requires: []Step{StepOrganization},
		Payload:  "performance_system",
		Capabilities: map[Action][]Role{
			ActionDraft:          {RoleHRManager},
			ActionSubmit:         {RoleHRManager},
			ActionApprove:        {RoleConsultant, RoleCEO},
			ActionReject:         {RoleConsultant, RoleCEO},
			ActionRequestChanges: {RoleCEO},
		},
	},
	{
		Step:     StepCompensation,
		Requires: []Step{StepPerformance},
		Payload:  "compensation_system",
		Capabilities: map[Action][]Role{
			ActionDraft:          {RoleHRManager},
			ActionSubmit:         {RoleHRManager},
			ActionApprove:        {RoleConsultant, RoleCEO},
			ActionReject:         {RoleConsultant, RoleCEO},
			ActionRequestChanges: {RoleCEO},
		},
	},
	{
		Step:     StepConsultantReview,
		Requires: []Step{StepCompensation},
		Capabilities: map[Action][]Role{
			ActionReview: {RoleConsultant},
		},
	},
	{
		Step:     StepCeoApproval,
		Requires: []Step{StepConsultantReview},
		Payload:  "hr_policy_os",
		Capabilities: map[Action][]Role{
			ActionDecideApprove: {RoleCEO},
			ActionDecideChanges: {RoleCEO},
		},
	},
	{
		Step:     StepDashboard,
		Requires: []Step{StepCeoApproval},
		Terminal: true,
		Capabilities: map[Action][]Role{
			ActionLock: {RoleCEO, RoleAdmin},
		},
	},
})

// DefaultGraph returns the HR design process graph.
func DefaultGraph() *Graph { return defaultGraph }

// NewGraph builds a graph from ordered definitions. It panics on duplicate
// steps or on a predecessor that is not declared earlier in the order.
func NewGraph(defs []StepDef) *Graph {
	g := &Graph{index: make(map[Step]int, len(defs))}
	for i, d := range defs {
		if _, dup := g.index[d.Step]; dup {
			panic(fmt.Sprintf("workflow: duplicate step %s", d.Step))
		}
		for _, req := range d.Requires {
			if _, ok := g.index[req]; !ok {
				panic(fmt.Sprintf("workflow: step %s requires undeclared step %s", d.Step, req))
			}
		}
		g.index[d.Step] = i
		g.defs = append(g.defs, d)
	}
	return g
}

// Lookup returns the definition for step.
func (g *Graph) Lookup(step Step) (StepDef, bool) {
	i, ok := g.index[step]
	if !ok {
		return StepDef{}, false
	}
	return g.defs[i], true
}

// Steps returns the ordered step list including the terminal pseudo-step.
func (g *Graph) Steps() []Step {
	out := make([]Step, 0, len(g.defs))
	for _, d := range g.defs {
		out = append(out, d.Step)
	}
	return out
}

// WorkSteps returns the ordered steps that carry a status, without the terminal pseudo-step.
func (g *Graph) WorkSteps() []Step {
	out := make([]Step, 0, len(g.defs))
	for _, d := range g.defs {
		if d.Terminal {
			continue
		}
		out = append(out, d.Step)
	}
	return out
}

// Terminal returns the terminal pseudo-step.
func (g *Graph) Terminal() Step {
	for _, d := range g.defs {
		if d.Terminal {
			return d.Step
		}
	}
	return g.defs[len(g.defs)-1].Step
}

// RolesFor returns the roles allowed to perform action on step.
func (g *Graph) RolesFor(step Step, action Action) []Role {
	d, ok := g.Lookup(step)
	if !ok {
		return nil
	}
	return d.Capabilities[action]
}

// Allowed is the single capability check for (step, action, role).
func (g *Graph) Allowed(step Step, action Action, role Role) bool {
	for _, r := range g.RolesFor(step, action) {
		if r == role {
			return true
		}
	}
	return false
}

// PayloadKind returns the step payload entity name owned by step.
func (g *Graph) PayloadKind(step Step) string {
	d, _ := g.Lookup(step)
	return d.Payload
}

// Reviewable reports whether step can be the target of a CEO change request.
func (g *Graph) Reviewable(step Step) bool {
	return len(g.RolesFor(step, ActionRequestChanges)) > 0
}
