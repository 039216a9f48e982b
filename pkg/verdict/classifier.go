package verdict

import (
	"fmt"

	"github.com/devicelab-dev/uiagent/pkg/core"
)

// Decision is what the loop should do with one classified step
type Decision struct {
	Verdict   core.Verdict
	Suppress  bool   // Keep the step out of the history ledger
	Terminate bool   // End the run with status quit
	Reason    string // Set when Terminate
	Count     int    // Current counter for soft kinds
}

// Classifier tracks consecutive loading and blank verdicts
type Classifier struct {
	LoadingThreshold int
	BlankThreshold   int

	loading int
	blank   int
}

// NewClassifier creates a classifier with the given thresholds
func NewClassifier(loadingThreshold, blankThreshold int) *Classifier {
	return &Classifier{LoadingThreshold: loadingThreshold, BlankThreshold: blankThreshold}
}

// Observe updates the counters with v and decides its effect. Each counter
// grows only on its own kind and resets on anything else. A soft kind ends
// the run only once its counter strictly exceeds the threshold.
func (c *Classifier) Observe(v core.Verdict) Decision {
	d := Decision{Verdict: v}

	switch v.Kind {
	case core.VerdictLoading:
		c.loading++
		c.blank = 0
		d.Suppress, d.Count = true, c.loading
		if c.loading > c.LoadingThreshold {
			d.Terminate = true
			d.Reason = fmt.Sprintf("Exceeded threshold for %s", v.Kind)
		}
	case core.VerdictBlankArea:
		c.blank++
		c.loading = 0
		d.Suppress, d.Count = true, c.blank
		if c.blank > c.BlankThreshold {
			d.Terminate = true
			d.Reason = fmt.Sprintf("Exceeded threshold for %s", v.Kind)
		}
	case core.VerdictConsistency:
		c.Reset()
		d.Terminate = true
		d.Reason = "Consistency issue: " + reasonOrKind(v)
	case core.VerdictCrashed:
		c.Reset()
		d.Terminate = true
		d.Reason = "App crashed: " + reasonOrKind(v)
	default:
		c.Reset()
	}
	return d
}

// Reset zeroes both counters, e.g. after an action executed
func (c *Classifier) Reset() {
	c.loading = 0
	c.blank = 0
}

// Counters returns the current loading and blank counts
func (c *Classifier) Counters() (loading, blank int) {
	return c.loading, c.blank
}

func reasonOrKind(v core.Verdict) string {
	if v.Reason != "" {
		return v.Reason
	}
	return v.Kind.String()
}
