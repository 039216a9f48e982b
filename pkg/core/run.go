// Package core provides the run model types for uiagent.
package core

import (
	"time"
)

// TestState is the authoring state of a test definition
type TestState string

const (
	TestDraft TestState = "draft"
	TestReady TestState = "ready"
)

// Role is the caller's access level
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the caller identity as provided by the upstream auth layer
type User struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAdmin returns true for elevated callers
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Test is a natural-language acceptance test bound to a device
type Test struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"userId" db:"user_id"`
	Name           string    `json:"name" db:"name"`
	Instruction    string    `json:"instruction" db:"instruction"`
	DeviceID       string    `json:"deviceId" db:"device_id"`
	State          TestState `json:"state" db:"state"`
	TimeoutSeconds int       `json:"timeoutSeconds,omitempty" db:"timeout_seconds"` // 0 = default
	SetupCommand   string    `json:"setupCommand,omitempty" db:"setup_command"`    // Run once via adb shell
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// Timeout returns the test's timeout, or def when none is configured
func (t Test) Timeout(def time.Duration) time.Duration {
	if t.TimeoutSeconds > 0 {
		return time.Duration(t.TimeoutSeconds) * time.Second
	}
	return def
}

// Verdict is the classified anomaly verdict of one step
type Verdict struct {
	Kind   VerdictKind `json:"kind"`
	Reason string      `json:"reason,omitempty"` // Only for consistency/crashed
}

// Issue is one advisory visual defect found on a screenshot
type Issue struct {
	Summary    string  `json:"summary"`
	Details    string  `json:"details"`
	Confidence float64 `json:"confidenceZeroToTen"`
}

// Step is one persisted loop iteration
type Step struct {
	Index           int     `json:"stepIndex"`
	Screenshot      string  `json:"screenshot"` // Artifact key
	ActionResponse  string  `json:"actionResponse"`
	VerdictResponse string  `json:"exceptionInferResponse"`
	Thought         string  `json:"thought"`
	Action          string  `json:"action"`
	Command         string  `json:"command,omitempty"` // Parsed verb, empty if unparseable
	Verdict         Verdict `json:"verdict"`
	Suppressed      bool    `json:"suppressed,omitempty"`

	// Filled asynchronously by the advisory check
	Issues           []Issue    `json:"issues"`
	IssuesAnalyzedAt *time.Time `json:"issuesAnalyzedAt,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// TestRun is one execution of a Test
type TestRun struct {
	ID        string     `json:"id"`
	TestID    string     `json:"testId"`
	UserID    string     `json:"userId"`
	Status    RunStatus  `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	Steps     []Step     `json:"steps"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Duration returns the run's wall time so far, or total when ended
func (r *TestRun) Duration() time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Summary counts steps by verdict kind
type Summary struct {
	Steps      int `json:"steps"`
	Suppressed int `json:"suppressed"`
	Issues     int `json:"issues"`
	Pending    int `json:"pending"` // Steps whose advisory check has not completed
}

// Summarize computes the run summary from its steps
func (r *TestRun) Summarize() Summary {
	var s Summary
	for _, st := range r.Steps {
		s.Steps++
		if st.Suppressed {
			s.Suppressed++
		}
		if st.IssuesAnalyzedAt == nil {
			s.Pending++
		}
		s.Issues += len(st.Issues)
	}
	return s
}

// CanAccess reports whether user may read or control a resource owned by ownerID
func CanAccess(user User, ownerID string) bool {
	return user.IsAdmin() || user.ID == ownerID
}
