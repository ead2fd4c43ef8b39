package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(statuses map[Step]StepStatus) Snapshot {
	s := NewSnapshot(DefaultGraph())
	s.Status = ProjectInProgress
	for k, v := range statuses {
		s.Steps[k] = v
	}
	return s
}

func TestDiagnosisGate(t *testing.T) {
	g := DefaultGraph()
	s := snapshotWith(map[Step]StepStatus{StepDiagnosis: StatusSubmitted})
	assert.Equal(t, StepDiagnosis, CurrentStep(g, s))
	assert.True(t, CanEnterStep(g, s, StepCeoPhilosophy))
	assert.False(t, CanEnterStep(g, s, StepOrganization))

	s.Steps[StepCeoPhilosophy] = StatusSubmitted
	assert.Equal(t, StepOrganization, CurrentStep(g, s))
	assert.True(t, CanEnterStep(g, s, StepOrganization))

	s = snapshotWith(map[Step]StepStatus{StepCeoPhilosophy: StatusSubmitted})
	assert.False(t, CanEnterStep(g, s, StepOrganization))
}

func TestCanEnterStepChecksWholeChain(t *testing.T) {
	g := DefaultGraph()
	s := snapshotWith(map[Step]StepStatus{
		StepDiagnosis:     StatusApproved,
		StepCeoPhilosophy: StatusSubmitted,
		StepOrganization:  StatusInProgress,
		StepPerformance:   StatusSubmitted,
	})
	assert.False(t, CanEnterStep(g, s, StepCompensation))
	assert.Equal(t, StepOrganization, CurrentStep(g, s))
	assert.False(t, CanEnterStep(g, s, "payroll"))
}

func TestCurrentStepBoundaries(t *testing.T) {
	g := DefaultGraph()
	assert.Equal(t, StepDiagnosis, CurrentStep(g, NewSnapshot(g)))

	all := map[Step]StepStatus{}
	for _, step := range g.WorkSteps() {
		all[step] = StatusApproved
	}
	s := snapshotWith(all)
	assert.Equal(t, StepCeoApproval, CurrentStep(g, s))

	s.Status = ProjectLocked
	assert.Equal(t, StepDashboard, CurrentStep(g, s))
}

func TestComputeStepState(t *testing.T) {
	g := DefaultGraph()
	s := snapshotWith(map[Step]StepStatus{StepDiagnosis: StatusSubmitted, StepCeoPhilosophy: StatusInProgress})
	st := ComputeStepState(g, s)
	require.Len(t, st.Steps, len(g.Steps()))
	assert.Equal(t, StepDiagnosis, st.Current)

	diag, ok := st.Step(StepDiagnosis)
	require.True(t, ok)
	assert.True(t, diag.Current)
	assert.True(t, diag.Enterable)
	org, _ := st.Step(StepOrganization)
	assert.False(t, org.Enterable)
	dash, _ := st.Step(StepDashboard)
	assert.False(t, dash.Enterable)
	assert.Equal(t, StatusNotStarted, dash.Status)

	s.Status = ProjectLocked
	st = ComputeStepState(g, s)
	for _, v := range st.Steps {
		if v.Step == StepDashboard {
			assert.True(t, v.Enterable)
			assert.True(t, v.Current)
			continue
		}
		assert.False(t, v.Enterable, v.Step)
	}
}
