package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devicelab-dev/uiagent/pkg/core"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"fenced", "Analysis...\n```\nexception_loading()\n```", "exception_loading()"},
		{"fenced with lang", "```python\npass()\n```", "pass()"},
		{"fence wins over prose", "I considered exception_crashed(reason='x') but\n```\npass()\n```", "pass()"},
		{"bare", "The screen shows a spinner: exception_loading()", "exception_loading()"},
		{"reason", "```exception_consistency(reason='cart is empty')```", "exception_consistency(reason='cart is empty')"},
		{"apostrophe in reason", "```\nexception_crashed(reason='app didn't open')\n```", "exception_crashed(reason='app didn't open')"},
		{"nothing", "Everything looks fine to me.", "pass()"},
		{"empty", "", "pass()"},
		{"word boundary", "bypass() is not a verdict", "pass()"},
		{"password not pass", "The password field is visible", "pass()"},
		{"fence without verdict falls through", "```\nno verdict here\n```\nexception_blank_area()", "exception_blank_area()"},
		{"unrecognised exception", "```\nexception_frozen(reason='no input')\n```", "exception_frozen(reason='no input')"},
		{"known suffix is not the known token", "exception_loading_slow()", "exception_loading_slow()"},
		{"bare exception prefix", "raise exception_ maybe", "pass()"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text))
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		want  core.Verdict
		known bool
	}{
		{"exception_loading()", core.Verdict{Kind: core.VerdictLoading}, true},
		{"exception_blank_area()", core.Verdict{Kind: core.VerdictBlankArea}, true},
		{"exception_consistency(reason='item missing')", core.Verdict{Kind: core.VerdictConsistency, Reason: "item missing"}, true},
		{"exception_crashed(reason=\"home screen\")", core.Verdict{Kind: core.VerdictCrashed, Reason: "home screen"}, true},
		{"exception_crashed('positional')", core.Verdict{Kind: core.VerdictCrashed, Reason: "positional"}, true},
		{"exception_crashed(reason='app didn't open')", core.Verdict{Kind: core.VerdictCrashed, Reason: "app didn't open"}, true},
		{"pass()", core.Verdict{Kind: core.VerdictPass}, true},
		{"  pass()  ", core.Verdict{Kind: core.VerdictPass}, true},
		{"exception_unknown()", core.Verdict{Kind: core.VerdictPass}, false},
		{"looks good", core.Verdict{Kind: core.VerdictPass}, false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, known := Parse(tt.token)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestClassifier_LoadingThresholdIsStrict(t *testing.T) {
	c := NewClassifier(3, 3)
	loading := core.Verdict{Kind: core.VerdictLoading}

	for i := 1; i <= 3; i++ {
		d := c.Observe(loading)
		assert.True(t, d.Suppress)
		assert.False(t, d.Terminate, "observation %d should not terminate", i)
		assert.Equal(t, i, d.Count)
	}

	d := c.Observe(loading)
	assert.True(t, d.Terminate)
	assert.Equal(t, "Exceeded threshold for loading", d.Reason)
}

func TestClassifier_BlankThreshold(t *testing.T) {
	c := NewClassifier(3, 1)
	blank := core.Verdict{Kind: core.VerdictBlankArea}

	assert.False(t, c.Observe(blank).Terminate)
	d := c.Observe(blank)
	assert.True(t, d.Terminate)
	assert.Equal(t, "Exceeded threshold for blank_area", d.Reason)
}

func TestClassifier_CountersResetOnOtherKinds(t *testing.T) {
	c := NewClassifier(3, 3)
	loading := core.Verdict{Kind: core.VerdictLoading}
	blank := core.Verdict{Kind: core.VerdictBlankArea}

	c.Observe(loading)
	c.Observe(loading)
	c.Observe(blank)
	l, b := c.Counters()
	assert.Equal(t, 0, l, "blank resets loading")
	assert.Equal(t, 1, b)

	c.Observe(loading)
	l, b = c.Counters()
	assert.Equal(t, 1, l)
	assert.Equal(t, 0, b, "loading resets blank")

	c.Observe(core.Verdict{Kind: core.VerdictPass})
	l, b = c.Counters()
	assert.Zero(t, l)
	assert.Zero(t, b)
}

func TestClassifier_CounterProperty(t *testing.T) {
	// For any verdict sequence the loading counter equals the length of the
	// trailing run of loading verdicts, and termination happens exactly when
	// it first exceeds the threshold.
	seqs := [][]core.VerdictKind{
		{core.VerdictLoading, core.VerdictPass, core.VerdictLoading, core.VerdictLoading, core.VerdictLoading, core.VerdictLoading},
		{core.VerdictLoading, core.VerdictBlankArea, core.VerdictLoading, core.VerdictLoading},
		{core.VerdictPass, core.VerdictPass, core.VerdictLoading},
	}
	const threshold = 3

	for _, seq := range seqs {
		c := NewClassifier(threshold, 10)
		run := 0
		for i, k := range seq {
			if k == core.VerdictLoading {
				run++
			} else {
				run = 0
			}
			d := c.Observe(core.Verdict{Kind: k})
			l, _ := c.Counters()
			assert.Equal(t, run, l, "step %d of %v", i, seq)
			assert.Equal(t, run > threshold, d.Terminate, "step %d of %v", i, seq)
		}
	}
}

func TestClassifier_HardKindsTerminateImmediately(t *testing.T) {
	c := NewClassifier(3, 3)
	c.Observe(core.Verdict{Kind: core.VerdictLoading})

	d := c.Observe(core.Verdict{Kind: core.VerdictConsistency, Reason: "cart empty"})
	assert.True(t, d.Terminate)
	assert.False(t, d.Suppress)
	assert.Equal(t, "Consistency issue: cart empty", d.Reason)

	d = c.Observe(core.Verdict{Kind: core.VerdictCrashed})
	assert.True(t, d.Terminate)
	assert.Equal(t, "App crashed: crashed", d.Reason)
}

func TestClassifier_ZeroThreshold(t *testing.T) {
	c := NewClassifier(0, 0)
	assert.True(t, c.Observe(core.Verdict{Kind: core.VerdictLoading}).Terminate)
}
