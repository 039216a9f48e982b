// Package history keeps the ordered conversation context a run shows its
// oracles.
package history

import (
	"github.com/devicelab-dev/uiagent/pkg/oracle"
)

// Pair is one observation turn and the decision that answered it
type Pair struct {
	Step        int
	Observation oracle.Turn
	Decision    oracle.Turn
}

// Ledger is an append-only sequence of pairs, optionally windowed to the
// newest MaxPairs. It belongs to a single agent and is not safe for
// concurrent use.
type Ledger struct {
	pairs    []Pair
	maxPairs int
}

// Option configures a Ledger
type Option func(*Ledger)

// WithMaxPairs keeps only the newest n pairs; 0 keeps everything.
func WithMaxPairs(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxPairs = n
		}
	}
}

// NewLedger creates an empty ledger
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds one pair. Steps must be appended in increasing order.
func (l *Ledger) Append(step int, observation, decision oracle.Turn) {
	l.pairs = append(l.pairs, Pair{Step: step, Observation: observation, Decision: decision})
	if l.maxPairs > 0 && len(l.pairs) > l.maxPairs {
		n := len(l.pairs) - l.maxPairs
		l.pairs = append([]Pair(nil), l.pairs[n:]...)
	}
}

// Turns returns the flattened turns, oldest first
func (l *Ledger) Turns() []oracle.Turn {
	out := make([]oracle.Turn, 0, 2*len(l.pairs))
	for _, p := range l.pairs {
		out = append(out, p.Observation, p.Decision)
	}
	return out
}

// With returns the ledger's turns followed by current, without storing it
func (l *Ledger) With(current oracle.Turn) []oracle.Turn {
	return append(l.Turns(), current)
}

// Steps returns the step indexes held, oldest first
func (l *Ledger) Steps() []int {
	out := make([]int, len(l.pairs))
	for i, p := range l.pairs {
		out[i] = p.Step
	}
	return out
}

// Len returns the number of pairs held
func (l *Ledger) Len() int {
	return len(l.pairs)
}
