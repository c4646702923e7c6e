package engine

// Stats carries diagnostic counters for a Machine, read under its RLock and
// updated inline under its Lock wherever the mutation they describe already
// holds it — the same spirit as the teacher's meta.Engine.Stats, which
// exists purely for observability and is never consulted by matching logic
// itself (SPEC_FULL.md's Ambient Stack: "no logging library is introduced").
type Stats struct {
	RulesAdded      uint64
	RulesDeleted    uint64
	SubRulesAdded   uint64
	SubRulesDeleted uint64
	MatchCalls      uint64
}
