package domain

import "strings"

const (
	ProjectActive    = "active"
	ProjectInactive  = "inactive"
	ProjectCompleted = "completed"

	EpicOpen       = "open"
	EpicInProgress = "in_progress"
	EpicClosed     = "closed"

	StoryTodo       = "todo"
	StoryInProgress = "in_progress"
	StoryTesting    = "testing"
	StoryDone       = "done"

	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"

	CaseDraft   = "draft"
	CaseReady   = "ready"
	CaseBlocked = "blocked"

	RunNotStarted = "not_started"
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunCancelled  = "cancelled"

	ExecNotExecuted = "not_executed"
	ExecInProgress  = "in_progress"
	ExecPassed      = "passed"
	ExecFailed      = "failed"
	ExecSkipped     = "skipped"
	ExecBlocked     = "blocked"
)

// choice is a stored value with its human label, kept in declaration order.
type choice struct {
	Value string
	Label string
}

type choices []choice

func (c choices) valid(v string) bool {
	for _, ch := range c {
		if ch.Value == v {
			return true
		}
	}
	return false
}

func (c choices) label(v string) string {
	for _, ch := range c {
		if ch.Value == v {
			return ch.Label
		}
	}
	return v
}

func (c choices) values() []string {
	out := make([]string, 0, len(c))
	for _, ch := range c {
		out = append(out, ch.Value)
	}
	return out
}

var (
	projectStatuses = choices{{ProjectActive, "Active"}, {ProjectInactive, "Inactive"}, {ProjectCompleted, "Completed"}}
	epicStatuses    = choices{{EpicOpen, "Open"}, {EpicInProgress, "In Progress"}, {EpicClosed, "Closed"}}
	storyStatuses   = choices{{StoryTodo, "To Do"}, {StoryInProgress, "In Progress"}, {StoryTesting, "Testing"}, {StoryDone, "Done"}}
	priorities      = choices{{PriorityLow, "Low"}, {PriorityMedium, "Medium"}, {PriorityHigh, "High"}, {PriorityCritical, "Critical"}}
	caseStatuses    = choices{{CaseDraft, "Draft"}, {CaseReady, "Ready"}, {CaseBlocked, "Blocked"}}
	caseExecStatus  = choices{{ExecNotExecuted, "Not Executed"}, {ExecPassed, "Passed"}, {ExecFailed, "Failed"}, {ExecSkipped, "Skipped"}}
	runStatuses     = choices{{RunNotStarted, "Not Started"}, {RunInProgress, "In Progress"}, {RunCompleted, "Completed"}, {RunCancelled, "Cancelled"}}
	execStatuses    = choices{
		{ExecNotExecuted, "Not Executed"},
		{ExecInProgress, "In Progress"},
		{ExecPassed, "Passed"},
		{ExecFailed, "Failed"},
		{ExecSkipped, "Skipped"},
		{ExecBlocked, "Blocked"},
	}
	stepStatuses = caseExecStatus
)

func ValidProjectStatus(v string) bool         { return projectStatuses.valid(v) }
func ValidEpicStatus(v string) bool            { return epicStatuses.valid(v) }
func ValidStoryStatus(v string) bool           { return storyStatuses.valid(v) }
func ValidPriority(v string) bool              { return priorities.valid(v) }
func ValidTestCaseStatus(v string) bool        { return caseStatuses.valid(v) }
func ValidCaseExecutionStatus(v string) bool   { return caseExecStatus.valid(v) }
func ValidRunStatus(v string) bool             { return runStatuses.valid(v) }
func ValidExecutionStatus(v string) bool       { return execStatuses.valid(v) }
func ValidStepStatus(v string) bool            { return stepStatuses.valid(v) }
func PriorityLabel(v string) string            { return priorities.label(v) }
func TestCaseStatusLabel(v string) string      { return caseStatuses.label(v) }
func CaseExecutionStatusLabel(v string) string { return caseExecStatus.label(v) }
func ExecutionStatusLabel(v string) string     { return execStatuses.label(v) }
func StepStatusLabel(v string) string          { return stepStatuses.label(v) }
func RunStatusLabel(v string) string           { return runStatuses.label(v) }
func Priorities() []string                     { return priorities.values() }

// ExecutionStatuses lists every execution status in display order.
func ExecutionStatuses() []string { return execStatuses.values() }

// PriorityRank orders priorities from most to least urgent; unknown values sort last.
func PriorityRank(v string) int {
	switch strings.ToLower(v) {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Executed reports whether an execution status counts toward the pass-rate denominator.
func Executed(status string) bool {
	switch status {
	case ExecPassed, ExecFailed, ExecSkipped, ExecBlocked:
		return true
	}
	return false
}
