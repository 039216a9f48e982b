package history

import (
	"testing"

	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/oracle"
)

func obs(n byte) oracle.Turn {
	return oracle.Observation(core.Image{ContentType: core.ContentTypeJPEG, Data: []byte{n}})
}

func TestLedger_AppendOrder(t *testing.T) {
	l := NewLedger()
	l.Append(0, obs(0), oracle.Decision("t0", "click(point='<point>1 2</point>')"))
	l.Append(2, obs(2), oracle.Decision("t2", "press_back()"))

	turns := l.Turns()
	if len(turns) != 4 {
		t.Fatalf("Turns() len = %d, want 4", len(turns))
	}
	if turns[0].Role != oracle.RoleUser || turns[1].Role != oracle.RoleAssistant {
		t.Errorf("roles = %s,%s, want user,assistant", turns[0].Role, turns[1].Role)
	}
	if got := turns[3].TextContent(); got != "Thought: t2\nAction: press_back()" {
		t.Errorf("decision text = %q", got)
	}
	if got := l.Steps(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("Steps() = %v, want [0 2]", got)
	}
}

func TestLedger_With(t *testing.T) {
	l := NewLedger()
	l.Append(0, obs(0), oracle.Decision("t", "a"))

	turns := l.With(obs(9))
	if len(turns) != 3 {
		t.Fatalf("With() len = %d, want 3", len(turns))
	}
	if turns[2].Parts[0].Data[0] != 9 {
		t.Error("With() should end with the current turn")
	}
	if l.Len() != 1 {
		t.Errorf("With() must not store the current turn, Len() = %d", l.Len())
	}
}

func TestLedger_TurnsIsCopy(t *testing.T) {
	l := NewLedger()
	l.Append(0, obs(0), oracle.Decision("t", "a"))

	turns := l.Turns()
	turns[0] = oracle.Turn{Role: oracle.RoleSystem}
	if l.Turns()[0].Role != oracle.RoleUser {
		t.Error("mutating Turns() result changed the ledger")
	}
}

func TestLedger_Window(t *testing.T) {
	l := NewLedger(WithMaxPairs(2))
	for i := 0; i < 5; i++ {
		l.Append(i, obs(byte(i)), oracle.Decision("t", "a"))
	}

	if l.Len() != 2 {
		t.Errorf("Len() = %d, want 2", l.Len())
	}
	if got := l.Steps(); got[0] != 3 || got[1] != 4 {
		t.Errorf("Steps() = %v, want [3 4]", got)
	}
}

func TestLedger_Unbounded(t *testing.T) {
	l := NewLedger(WithMaxPairs(0))
	for i := 0; i < 50; i++ {
		l.Append(i, obs(0), oracle.Decision("t", "a"))
	}
	if l.Len() != 50 {
		t.Errorf("Len() = %d, want 50", l.Len())
	}
}
