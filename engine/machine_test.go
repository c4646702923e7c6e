package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/coregx/ruler/pattern"
)

func exact(path, literal string) FieldPatterns {
	return FieldPatterns{Path: path, Patterns: []pattern.Pattern{pattern.NewExact([]byte(literal))}}
}

func existsTrue(path string) FieldPatterns {
	return FieldPatterns{Path: path, Patterns: []pattern.Pattern{pattern.NewExists(true)}}
}

func existsFalse(path string) FieldPatterns {
	return FieldPatterns{Path: path, Patterns: []pattern.Pattern{pattern.NewExists(false)}}
}

func sorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

func TestMachine_AddRule_SingleFieldMatch(t *testing.T) {
	m := NewMachine(DefaultConfig())
	if err := m.AddRule("status-ok", []Alternative{{exact("status", "ok")}}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	names, err := m.RulesForJSONEvent([]byte(`{"status":"ok"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	if len(names) != 1 || names[0] != "status-ok" {
		t.Fatalf("RulesForJSONEvent = %v, want [status-ok]", names)
	}

	names, err = m.RulesForJSONEvent([]byte(`{"status":"fail"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("RulesForJSONEvent(fail) = %v, want none", names)
	}
}

func TestMachine_AddRule_MultiFieldConjunction(t *testing.T) {
	m := NewMachine(DefaultConfig())
	rule := Alternative{exact("region", "us-east-1"), exact("status", "ok")}
	if err := m.AddRule("region-ok", []Alternative{rule}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	names, err := m.RulesForJSONEvent([]byte(`{"region":"us-east-1","status":"ok"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	if len(names) != 1 || names[0] != "region-ok" {
		t.Fatalf("RulesForJSONEvent = %v, want [region-ok]", names)
	}

	names, err = m.RulesForJSONEvent([]byte(`{"region":"us-east-1"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("RulesForJSONEvent with only one of two fields = %v, want none", names)
	}
}

func TestMachine_AddRule_Or(t *testing.T) {
	m := NewMachine(DefaultConfig())
	rule := []Alternative{
		{exact("status", "ok")},
		{exact("status", "degraded")},
	}
	if err := m.AddRule("healthy-ish", rule); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	for _, status := range []string{"ok", "degraded"} {
		names, err := m.RulesForJSONEvent([]byte(`{"status":"` + status + `"}`))
		if err != nil {
			t.Fatalf("RulesForJSONEvent(%s): %v", status, err)
		}
		if len(names) != 1 || names[0] != "healthy-ish" {
			t.Fatalf("RulesForJSONEvent(%s) = %v, want [healthy-ish]", status, names)
		}
	}

	names, err := m.RulesForJSONEvent([]byte(`{"status":"down"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent(down): %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("RulesForJSONEvent(down) = %v, want none", names)
	}
}

func TestMachine_ExistsTrueAndFalse(t *testing.T) {
	m := NewMachine(DefaultConfig())
	if err := m.AddRule("has-trace", []Alternative{{existsTrue("traceId")}}); err != nil {
		t.Fatalf("AddRule has-trace: %v", err)
	}
	if err := m.AddRule("no-trace", []Alternative{{exact("status", "ok"), existsFalse("traceId")}}); err != nil {
		t.Fatalf("AddRule no-trace: %v", err)
	}

	names, err := m.RulesForJSONEvent([]byte(`{"status":"ok","traceId":"abc"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	if got := sorted(names); len(got) != 1 || got[0] != "has-trace" {
		t.Fatalf("RulesForJSONEvent(with traceId) = %v, want [has-trace]", got)
	}

	names, err = m.RulesForJSONEvent([]byte(`{"status":"ok"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	if got := sorted(names); len(got) != 1 || got[0] != "no-trace" {
		t.Fatalf("RulesForJSONEvent(without traceId) = %v, want [no-trace]", got)
	}
}

func TestMachine_DeleteRule_Idempotent(t *testing.T) {
	m := NewMachine(DefaultConfig())
	if err := m.AddRule("r1", []Alternative{{exact("status", "ok")}}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := m.DeleteRule("r1"); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if err := m.DeleteRule("r1"); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("second DeleteRule = %v, want ErrRuleNotFound", err)
	}

	names, err := m.RulesForJSONEvent([]byte(`{"status":"ok"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("RulesForJSONEvent after delete = %v, want none", names)
	}
	if !m.IsEmpty() {
		t.Errorf("machine should be empty after deleting its only rule")
	}
}

func TestMachine_AddRule_InvalidRule(t *testing.T) {
	m := NewMachine(DefaultConfig())
	if err := m.AddRule("empty", nil); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("AddRule with no alternatives = %v, want ErrInvalidRule", err)
	}
	if err := m.AddRule("empty-alt", []Alternative{{}}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("AddRule with an empty alternative = %v, want ErrInvalidRule", err)
	}
}

func TestMachine_AddRule_DuplicatePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PathAllowedMultipleTimes = false
	m := NewMachine(cfg)
	alt := Alternative{exact("status", "ok"), exact("status", "also-ok")}
	err := m.AddRule("dup", []Alternative{alt})
	if !errors.Is(err, ErrDuplicatePath) {
		t.Fatalf("AddRule with duplicate path = %v, want ErrDuplicatePath", err)
	}
	if !m.IsEmpty() {
		t.Errorf("rejected AddRule should leave the machine unchanged")
	}
}

func TestMachine_AddRule_RuleOverriding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RuleOverriding = true
	m := NewMachine(cfg)

	if err := m.AddRule("r1", []Alternative{{exact("status", "ok")}}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := m.AddRule("r1", []Alternative{{exact("status", "degraded")}}); err != nil {
		t.Fatalf("AddRule (override): %v", err)
	}

	names, err := m.RulesForJSONEvent([]byte(`{"status":"ok"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("old definition should no longer match after override, got %v", names)
	}

	names, err = m.RulesForJSONEvent([]byte(`{"status":"degraded"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	if len(names) != 1 || names[0] != "r1" {
		t.Fatalf("new definition should match after override, got %v", names)
	}
}

func TestMachine_AddRule_AdditiveByDefault(t *testing.T) {
	m := NewMachine(DefaultConfig())
	if err := m.AddRule("r1", []Alternative{{exact("status", "ok")}}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := m.AddRule("r1", []Alternative{{exact("status", "degraded")}}); err != nil {
		t.Fatalf("AddRule (additive): %v", err)
	}

	for _, status := range []string{"ok", "degraded"} {
		names, err := m.RulesForJSONEvent([]byte(`{"status":"` + status + `"}`))
		if err != nil {
			t.Fatalf("RulesForJSONEvent(%s): %v", status, err)
		}
		if len(names) != 1 || names[0] != "r1" {
			t.Fatalf("RulesForJSONEvent(%s) = %v, want [r1]", status, names)
		}
	}
}

func TestMachine_ApproximateObjectCount_ReturnsToBaseline(t *testing.T) {
	m := NewMachine(DefaultConfig())
	baseline := m.ApproximateObjectCount()

	rule := []Alternative{{exact("region", "us-east-1"), exact("status", "ok")}}
	if err := m.AddRule("r1", rule); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if got := m.ApproximateObjectCount(); got <= baseline {
		t.Fatalf("ApproximateObjectCount after AddRule = %d, want more than baseline %d", got, baseline)
	}

	if err := m.DeleteRule("r1"); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if got := m.ApproximateObjectCount(); got != baseline {
		t.Fatalf("ApproximateObjectCount after delete = %d, want back to baseline %d", got, baseline)
	}
}

func TestMachine_SharedStructureAcrossRules(t *testing.T) {
	// "region" sorts before both "xfield" and "yfield", so both rules'
	// chains share the same first-field NameState transition.
	m := NewMachine(DefaultConfig())
	if err := m.AddRule("r1", []Alternative{{exact("region", "us-east-1"), exact("xfield", "1")}}); err != nil {
		t.Fatalf("AddRule r1: %v", err)
	}
	withShared := m.ApproximateObjectCount()
	if err := m.AddRule("r2", []Alternative{{exact("region", "us-east-1"), exact("yfield", "2")}}); err != nil {
		t.Fatalf("AddRule r2: %v", err)
	}
	withBoth := m.ApproximateObjectCount()

	if err := m.DeleteRule("r2"); err != nil {
		t.Fatalf("DeleteRule r2: %v", err)
	}
	if got := m.ApproximateObjectCount(); got != withShared {
		t.Fatalf("ApproximateObjectCount after deleting r2 = %d, want back to %d", got, withShared)
	}
	if withBoth <= withShared {
		t.Fatalf("adding r2 should have grown the graph: withShared=%d withBoth=%d", withShared, withBoth)
	}
}

// TestMachine_SharedNameStateSafety is scenario S4 of spec.md §8: three
// rules whose field sets overlap but are not identical share NameStates up
// to the point where their requirements diverge, and a NameState reached
// along one rule's path must never be mistaken for another rule's
// terminal, even though it lies on that rule's path too.
func TestMachine_SharedNameStateSafety(t *testing.T) {
	m := NewMachine(DefaultConfig())

	// AddRule sorts each alternative's fields ascending by Path (machine.go's
	// sort.SliceStable), so for the shared field to actually land as the
	// common interior NameState — the scenario this test means to exercise —
	// it must sort before the diverging field: "aaa" < "zzz". r1 requires
	// only aaa=a; r2 and r3 both additionally require zzz, but diverge on
	// zzz's value. r1's chain is therefore a strict prefix of r2's and r3's,
	// so all three necessarily share the NameState reached after aaa=a — the
	// reuse rule (spec.md §4.4) must not let that sharing leak r3 into a
	// match that only satisfies r1 and r2's requirements.
	if err := m.AddRule("r1", []Alternative{{exact("aaa", "a")}}); err != nil {
		t.Fatalf("AddRule r1: %v", err)
	}
	if err := m.AddRule("r2", []Alternative{{exact("aaa", "a"), exact("zzz", "x")}}); err != nil {
		t.Fatalf("AddRule r2: %v", err)
	}
	if err := m.AddRule("r3", []Alternative{{exact("aaa", "a"), exact("zzz", "y")}}); err != nil {
		t.Fatalf("AddRule r3: %v", err)
	}

	names, err := m.RulesForJSONEvent([]byte(`{"aaa":"a","zzz":"x"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	got := sorted(names)
	if len(got) != 2 || got[0] != "r1" || got[1] != "r2" {
		t.Fatalf("RulesForJSONEvent(aaa=a,zzz=x) = %v, want [r1 r2] (not r3)", got)
	}

	names, err = m.RulesForJSONEvent([]byte(`{"aaa":"a","zzz":"y"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	got = sorted(names)
	if len(got) != 2 || got[0] != "r1" || got[1] != "r3" {
		t.Fatalf("RulesForJSONEvent(aaa=a,zzz=y) = %v, want [r1 r3] (not r2)", got)
	}
}

// TestMachine_MatchIsOrderIndependent is a regression test: matching must
// not depend on the order fields happen to appear in the event's JSON
// text, only on the set of (path, value) pairs present (spec.md line 5,
// §4.5: "regardless of key-encounter order" / "arbitrary order"). AddRule
// threads a multi-field rule's chain sorted by Path, which need not agree
// with either JSON rendering below; both orderings of the same event must
// therefore match identically.
func TestMachine_MatchIsOrderIndependent(t *testing.T) {
	m := NewMachine(DefaultConfig())
	if err := m.AddRule("r1", []Alternative{{exact("foo", "a")}}); err != nil {
		t.Fatalf("AddRule r1: %v", err)
	}
	if err := m.AddRule("r2", []Alternative{{exact("foo", "a"), exact("bar", "x")}}); err != nil {
		t.Fatalf("AddRule r2: %v", err)
	}

	inOrder, err := m.RulesForJSONEvent([]byte(`{"foo":"a","bar":"x"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent (foo before bar): %v", err)
	}
	reordered, err := m.RulesForJSONEvent([]byte(`{"bar":"x","foo":"a"}`))
	if err != nil {
		t.Fatalf("RulesForJSONEvent (bar before foo): %v", err)
	}

	want := []string{"r1", "r2"}
	if got := sorted(inOrder); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("RulesForJSONEvent(foo before bar) = %v, want %v", got, want)
	}
	if got := sorted(reordered); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("RulesForJSONEvent(bar before foo) = %v, want %v (same event, different field order)", got, want)
	}
}

// TestMachine_ConcurrentReadersAndWriters is scenario S6 of spec.md §8:
// writers add disjoint rules while many readers match concurrently; every
// read must return a subset of the rules added so far, and once all
// writers finish, reads stabilize at the full set (spec.md §5's
// reader-writer contract: readers never observe torn state).
func TestMachine_ConcurrentReadersAndWriters(t *testing.T) {
	const numRules = 100
	const numWriters = 10
	const numReaders = 50 // scaled down from spec.md's 300 to keep -race runs fast
	const rulesPerWriter = numRules / numWriters

	m := NewMachine(DefaultConfig())
	all := make(map[string]bool, numRules)
	for i := 0; i < numRules; i++ {
		all[fmt.Sprintf("r%d", i)] = true
	}

	var eventJSON []byte
	eventJSON = append(eventJSON, '{')
	first := true
	for i := 0; i < numRules; i++ {
		if !first {
			eventJSON = append(eventJSON, ',')
		}
		first = false
		eventJSON = append(eventJSON, fmt.Sprintf("%q:%q", fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))...)
	}
	eventJSON = append(eventJSON, '}')

	stop := make(chan struct{})
	var readerWG sync.WaitGroup
	var readErr error
	var readErrMu sync.Mutex

	for r := 0; r < numReaders; r++ {
		readerWG.Add(1)
		go func() {
			defer readerWG.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				names, err := m.RulesForJSONEvent(eventJSON)
				if err != nil {
					readErrMu.Lock()
					readErr = err
					readErrMu.Unlock()
					return
				}
				for _, n := range names {
					if !all[n] {
						readErrMu.Lock()
						readErr = fmt.Errorf("match returned unknown rule %q", n)
						readErrMu.Unlock()
						return
					}
				}
			}
		}()
	}

	var writerWG sync.WaitGroup
	for w := 0; w < numWriters; w++ {
		writerWG.Add(1)
		go func(w int) {
			defer writerWG.Done()
			for j := 0; j < rulesPerWriter; j++ {
				idx := w*rulesPerWriter + j
				name := fmt.Sprintf("r%d", idx)
				rule := []Alternative{{exact(fmt.Sprintf("k%d", idx), fmt.Sprintf("v%d", idx))}}
				if err := m.AddRule(name, rule); err != nil {
					readErrMu.Lock()
					readErr = fmt.Errorf("AddRule %s: %w", name, err)
					readErrMu.Unlock()
					return
				}
			}
		}(w)
	}
	writerWG.Wait()
	close(stop)
	readerWG.Wait()

	readErrMu.Lock()
	defer readErrMu.Unlock()
	if readErr != nil {
		t.Fatalf("concurrent access error: %v", readErr)
	}

	names, err := m.RulesForJSONEvent(eventJSON)
	if err != nil {
		t.Fatalf("final RulesForJSONEvent: %v", err)
	}
	if len(names) != numRules {
		t.Fatalf("after all writers finished, match returned %d rules, want %d", len(names), numRules)
	}
}

func TestMachine_StatsSnapshot(t *testing.T) {
	m := NewMachine(DefaultConfig())
	if err := m.AddRule("r1", []Alternative{{exact("status", "ok")}}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if _, err := m.RulesForJSONEvent([]byte(`{"status":"ok"}`)); err != nil {
		t.Fatalf("RulesForJSONEvent: %v", err)
	}
	stats := m.StatsSnapshot()
	if stats.RulesAdded != 1 {
		t.Errorf("RulesAdded = %d, want 1", stats.RulesAdded)
	}
	if stats.MatchCalls == 0 {
		t.Errorf("MatchCalls should be nonzero after a query")
	}
}
