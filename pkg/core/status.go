package core

// RunStatus represents the lifecycle state of a test run
type RunStatus string

const (
	RunRunning   RunStatus = "running"   // Agent loop is active
	RunCompleted RunStatus = "completed" // Oracle declared the task finished
	RunQuit      RunStatus = "quit"      // Ended by exception, error, stop or timeout
)

// String returns the string representation of RunStatus
func (s RunStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a final state
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunQuit
}

// IsValid reports whether s is one of the known statuses
func (s RunStatus) IsValid() bool {
	switch s {
	case RunRunning, RunCompleted, RunQuit:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a run may move from s to next.
// Only running -> completed|quit is allowed; terminal states are immutable.
func (s RunStatus) CanTransition(next RunStatus) bool {
	return s == RunRunning && next.IsTerminal()
}

// VerdictKind is the anomaly classification of one screen
type VerdictKind int

const (
	VerdictPass        VerdictKind = iota // UI is OK
	VerdictLoading                        // Loading indicator on main content (soft)
	VerdictBlankArea                      // Main content unnaturally blank (soft)
	VerdictConsistency                    // App state inconsistent with history (hard)
	VerdictCrashed                        // App crashed or is blocked (hard)
)

// String returns the string representation of VerdictKind
func (k VerdictKind) String() string {
	switch k {
	case VerdictPass:
		return "pass"
	case VerdictLoading:
		return "loading"
	case VerdictBlankArea:
		return "blank_area"
	case VerdictConsistency:
		return "consistency"
	case VerdictCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// IsSoft returns true for transient anomalies that are counted, not immediately terminal
func (k VerdictKind) IsSoft() bool {
	return k == VerdictLoading || k == VerdictBlankArea
}

// IsHard returns true for anomalies that end the run immediately
func (k VerdictKind) IsHard() bool {
	return k == VerdictConsistency || k == VerdictCrashed
}

// MarshalText encodes the kind by name so stored steps stay readable.
func (k VerdictKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name; unknown names decode to pass.
func (k *VerdictKind) UnmarshalText(b []byte) error {
	*k = ParseVerdictKind(string(b))
	return nil
}

// ParseVerdictKind maps a stored kind name back to a VerdictKind
func ParseVerdictKind(s string) VerdictKind {
	switch s {
	case "loading":
		return VerdictLoading
	case "blank_area":
		return VerdictBlankArea
	case "consistency":
		return VerdictConsistency
	case "crashed":
		return VerdictCrashed
	default:
		return VerdictPass
	}
}

// ErrorCategory classifies the type of error for debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone        ErrorCategory = iota // No error
	ErrCategoryParse                            // Malformed action grammar or oracle response
	ErrCategoryOracle                           // Oracle transport or protocol failure
	ErrCategoryExecutor                         // Device command failed
	ErrCategoryPersistence                      // Store write or read failed
	ErrCategoryConfig                           // Invalid configuration, missing required field
	ErrCategoryAccess                           // Caller may not act on the test or run
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryParse:
		return "parse"
	case ErrCategoryOracle:
		return "oracle"
	case ErrCategoryExecutor:
		return "executor"
	case ErrCategoryPersistence:
		return "persistence"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryAccess:
		return "access"
	default:
		return "unknown"
	}
}
