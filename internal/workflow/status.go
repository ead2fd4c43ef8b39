package workflow

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StatusNotStarted StepStatus = "not_started"
	StatusInProgress StepStatus = "in_progress"
	StatusSubmitted  StepStatus = "submitted"
	StatusApproved   StepStatus = "approved"
	StatusLocked     StepStatus = "locked"
	StatusRejected   StepStatus = "rejected"
)

var allStatuses = []StepStatus{
	StatusNotStarted,
	StatusInProgress,
	StatusSubmitted,
	StatusApproved,
	StatusLocked,
	StatusRejected,
}

func (s StepStatus) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Complete reports whether the step satisfies a gate for the steps after it.
func (s StepStatus) Complete() bool {
	return s == StatusSubmitted || s == StatusApproved || s == StatusLocked
}

// Terminal reports whether the status is acceptable for a locked project.
func (s StepStatus) Terminal() bool {
	return s == StatusApproved || s == StatusLocked
}

// ProjectStatus is the project-wide lifecycle.
type ProjectStatus string

const (
	ProjectNotStarted ProjectStatus = "not_started"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectLocked     ProjectStatus = "locked"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectNotStarted, ProjectInProgress, ProjectLocked:
		return true
	}
	return false
}

// Role is the opaque role supplied by the identity collaborator.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCEO        Role = "ceo"
	RoleHRManager  Role = "hr_manager"
	RoleConsultant Role = "consultant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCEO, RoleHRManager, RoleConsultant:
		return true
	}
	return false
}
