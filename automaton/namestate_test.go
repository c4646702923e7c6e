package automaton

import (
	"sort"
	"testing"

	"github.com/coregx/ruler/pattern"
)

func TestNameMatcher_SingleFieldRule(t *testing.T) {
	nm := NewNameMatcher()
	terminal := NewNameState(1)
	sub := NewSubRuleContext("r1")
	terminal.AddTerminal(sub)

	bm := nm.Root.Field("status")
	if _, err := bm.AddPattern(pattern.NewExact([]byte("ok")), terminal, 1000); err != nil {
		t.Fatalf("AddPattern: %v", err)
	}

	got := nm.Match([]EventField{{Path: "status", Value: []byte("ok")}}, 2)
	if len(got) != 1 || got[0] != sub {
		t.Fatalf("Match = %v, want [%v]", got, sub)
	}

	got = nm.Match([]EventField{{Path: "status", Value: []byte("fail")}}, 2)
	if len(got) != 0 {
		t.Fatalf("Match with non-matching value = %v, want none", got)
	}
}

func TestNameMatcher_TwoFieldConjunction(t *testing.T) {
	nm := NewNameMatcher()
	mid := NewNameState(1)
	terminal := NewNameState(2)
	sub := NewSubRuleContext("r1")
	terminal.AddTerminal(sub)

	bm1 := nm.Root.Field("region")
	if _, err := bm1.AddPattern(pattern.NewExact([]byte("us-east-1")), mid, 1000); err != nil {
		t.Fatalf("AddPattern region: %v", err)
	}
	bm2 := mid.Field("status")
	if _, err := bm2.AddPattern(pattern.NewExact([]byte("ok")), terminal, 1000); err != nil {
		t.Fatalf("AddPattern status: %v", err)
	}

	fields := []EventField{
		{Path: "region", Value: []byte("us-east-1")},
		{Path: "status", Value: []byte("ok")},
	}
	got := nm.Match(fields, 3)
	if len(got) != 1 || got[0] != sub {
		t.Fatalf("Match = %v, want [%v]", got, sub)
	}

	// Missing the second field should not satisfy the sub-rule.
	got = nm.Match([]EventField{{Path: "region", Value: []byte("us-east-1")}}, 3)
	if len(got) != 0 {
		t.Fatalf("Match with only one of two required fields = %v, want none", got)
	}
}

func TestNameMatcher_ExistsTrue(t *testing.T) {
	nm := NewNameMatcher()
	terminal := NewNameState(1)
	sub := NewSubRuleContext("r1")
	terminal.AddTerminal(sub)

	if !nm.Root.AddExistsTrue("traceId", terminal) {
		t.Fatalf("AddExistsTrue should succeed the first time")
	}
	if nm.Root.AddExistsTrue("traceId", terminal) {
		t.Errorf("AddExistsTrue should be idempotent for the same (field, next) pair")
	}
	if terminal.Refcount() != 1 {
		t.Errorf("terminal refcount = %d, want 1", terminal.Refcount())
	}

	got := nm.Match([]EventField{{Path: "traceId", Value: []byte("abc-123")}}, 2)
	if len(got) != 1 || got[0] != sub {
		t.Fatalf("Match = %v, want [%v]", got, sub)
	}

	got = nm.Match([]EventField{{Path: "other", Value: []byte("x")}}, 2)
	if len(got) != 0 {
		t.Fatalf("Match without the exists-true field present = %v, want none", got)
	}

	if !nm.Root.RemoveExistsTrue("traceId", terminal) {
		t.Fatalf("RemoveExistsTrue should report removal")
	}
	if terminal.Refcount() != 0 {
		t.Errorf("terminal refcount after remove = %d, want 0", terminal.Refcount())
	}
}

func TestNameMatcher_SharedPrefixReachedOnce(t *testing.T) {
	// Two sub-rules share the same first-field NameState transition; a
	// single event satisfying both should surface both sub-rules exactly
	// once each, and the shared intermediate NameState must not be visited
	// (or counted) twice even though two independent paths lead through it.
	nm := NewNameMatcher()
	shared := NewNameState(1)
	termA := NewNameState(2)
	termB := NewNameState(3)
	subA := NewSubRuleContext("a")
	subB := NewSubRuleContext("b")
	termA.AddTerminal(subA)
	termB.AddTerminal(subB)

	bm := nm.Root.Field("region")
	if _, err := bm.AddPattern(pattern.NewExact([]byte("us-east-1")), shared, 1000); err != nil {
		t.Fatalf("AddPattern: %v", err)
	}
	shared.Field("a").AddPattern(pattern.NewExact([]byte("1")), termA, 1000)
	shared.Field("b").AddPattern(pattern.NewExact([]byte("2")), termB, 1000)

	fields := []EventField{
		{Path: "region", Value: []byte("us-east-1")},
		{Path: "a", Value: []byte("1")},
		{Path: "b", Value: []byte("2")},
	}
	got := nm.Match(fields, 4)
	names := make([]string, len(got))
	for i, s := range got {
		names[i] = s.RuleName
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("Match = %v, want [a b]", names)
	}
}

func TestNameState_ReuseIndex(t *testing.T) {
	ns := NewNameState(0)
	next := NewNameState(1)
	idx := ns.ReuseIndexFor("status")
	idx["key"] = next
	if ns.ReuseIndexFor("status")["key"] != next {
		t.Errorf("ReuseIndexFor should return the same map across calls")
	}
}

func TestNameState_IsGarbageAndIsEmpty(t *testing.T) {
	ns := NewNameState(0)
	if !ns.IsEmpty() {
		t.Errorf("fresh NameState should be empty")
	}
	if !ns.IsGarbage() {
		t.Errorf("fresh NameState with zero refcount and no terminals should be garbage")
	}
	ns.IncRef()
	if ns.IsGarbage() {
		t.Errorf("NameState with a positive refcount should not be garbage")
	}
	ns.DecRef()
	sub := NewSubRuleContext("r")
	ns.AddTerminal(sub)
	if ns.IsGarbage() {
		t.Errorf("NameState with a terminal sub-rule should not be garbage even at refcount 0")
	}
}
