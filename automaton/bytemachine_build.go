package automaton

// This file holds the recursive construction and teardown routines for the
// seven pattern kinds the byte machine shares trie structure across:
// Exact, Prefix, Suffix, EqualsIgnoreCase, NumericEquals, NumericRange, CIDR.
//
// Construction and deletion are written as mirror-image recursions on
// purpose: each deleteX walks exactly the edges the matching addX would have
// walked (recomputed deterministically from the pattern's own bytes, not
// recorded separately), and reports whether the state it just finished with
// still holds other structure, so its caller can decide whether the edge
// leading to it should be removed too. That report is what lets deletion
// stop the moment it reaches a state still shared with another pattern.

// attachMatch appends a byteMatch to t's match chain and takes a reference
// on its destination NameState (spec.md §3: NameState refcount "number of
// distinct ByteMatches pointing to this NameState").
func attachMatch(t *byteTransition, m *byteMatch) {
	m.nextMatch = t.match
	t.match = m
	m.next.IncRef()
}

// detachMatch removes the byteMatch associated with next from t's chain,
// releasing its reference on next, and reports whether one was found.
func detachMatch(t *byteTransition, next *NameState) bool {
	var prev *byteMatch
	for cur := t.match; cur != nil; cur = cur.nextMatch {
		if cur.next == next {
			if prev == nil {
				t.match = cur.nextMatch
			} else {
				prev.nextMatch = cur.nextMatch
			}
			next.DecRef()
			return true
		}
		prev = cur
	}
	return false
}

// --- literal chains: Exact, Prefix, Suffix (over pre-reversed bytes) ---

// addLiteralChain walks (creating as needed) the edge for each byte of
// literal from state, then attaches a terminal. For Exact complete matches
// (appendVT), the terminal lives on a dedicated vt edge past the last byte.
// For Prefix, and for Suffix over its pre-reversed bytes, the terminal is a
// Composite attached directly to the edge consuming the last literal byte,
// which may also continue (hasNext) if another pattern shares the prefix.
func (m *ByteMachine) addLiteralChain(state *byteState, literal []byte, appendVT bool, next *NameState) {
	if len(literal) == 0 {
		if appendVT {
			t := m.getOrCreateEdge(state, vt)
			attachMatch(t, &byteMatch{next: next})
		}
		return
	}
	b := literal[0]
	if len(literal) == 1 && !appendVT {
		m.getOrCreateChild(state, b) // ensure the edge/child exist for continuation
		t := state.edges[int(b)]
		attachMatch(t, &byteMatch{next: next})
		return
	}
	child := m.getOrCreateChild(state, b)
	m.addLiteralChain(child, literal[1:], appendVT, next)
}

// deleteLiteralChain mirrors addLiteralChain, reporting whether state still
// has other structure once the given association is removed.
func (m *ByteMachine) deleteLiteralChain(state *byteState, literal []byte, appendVT bool, next *NameState) bool {
	if len(literal) == 0 {
		if !appendVT {
			return stateHasContent(state)
		}
		t, ok := state.edges[vt]
		if !ok || !detachMatch(t, next) {
			return false
		}
		if t.match == nil && !t.hasNext() {
			delete(state.edges, vt)
		}
		return stateHasContent(state)
	}

	b := literal[0]
	if len(literal) == 1 && !appendVT {
		t, ok := state.edges[int(b)]
		if !ok || !detachMatch(t, next) {
			return false
		}
		if t.match == nil && !t.hasNext() {
			delete(state.edges, int(b))
		}
		return stateHasContent(state)
	}

	t, ok := state.edges[int(b)]
	if !ok || !t.hasNext() {
		return false
	}
	child := m.states[t.next]
	childStillNeeded := m.deleteLiteralChain(child, literal[1:], appendVT, next)
	if !childStillNeeded {
		m.removeEdge(state, int(b))
	}
	return stateHasContent(state)
}

// --- EqualsIgnoreCase: dual-case edges sharing one child per position ---

func foldPair(b byte) (lo, hi byte, isLetter bool) {
	switch {
	case b >= 'a' && b <= 'z':
		return b, b - ('a' - 'A'), true
	case b >= 'A' && b <= 'Z':
		return b + ('a' - 'A'), b, true
	default:
		return b, b, false
	}
}

func (m *ByteMachine) addFoldedChain(state *byteState, literal []byte, next *NameState) {
	if len(literal) == 0 {
		t := m.getOrCreateEdge(state, vt)
		attachMatch(t, &byteMatch{next: next})
		return
	}
	lo, hi, isLetter := foldPair(literal[0])
	child := m.getOrCreateChild(state, lo)
	if isLetter && hi != lo {
		m.linkExistingChild(state, hi, child)
	}
	m.addFoldedChain(child, literal[1:], next)
}

// linkExistingChild points a new edge (state, b) at an already-existing
// child state, incrementing its refcount: this is how EqualsIgnoreCase's
// two case edges end up sharing one downstream subtree.
func (m *ByteMachine) linkExistingChild(state *byteState, b byte, child *byteState) {
	if t, ok := state.edges[int(b)]; ok && t.hasNext() {
		return
	}
	t := m.getOrCreateEdge(state, int(b))
	t.next = child.id
	child.refcount++
}

func (m *ByteMachine) deleteFoldedChain(state *byteState, literal []byte, next *NameState) bool {
	if len(literal) == 0 {
		t, ok := state.edges[vt]
		if !ok || !detachMatch(t, next) {
			return false
		}
		if t.match == nil && !t.hasNext() {
			delete(state.edges, vt)
		}
		return stateHasContent(state)
	}

	lo, hi, isLetter := foldPair(literal[0])
	tLo, ok := state.edges[int(lo)]
	if !ok || !tLo.hasNext() {
		return false
	}
	child := m.states[tLo.next]
	childStillNeeded := m.deleteFoldedChain(child, literal[1:], next)
	if !childStillNeeded {
		m.removeEdge(state, int(lo))
		if isLetter && hi != lo {
			// The hi-case edge references the same child by id and holds
			// its own refcount on it (linkExistingChild); removeEdge only
			// released the lo edge's reference, so the hi edge's reference
			// is released here as well.
			if t, ok := state.edges[int(hi)]; ok {
				delete(state.edges, int(hi))
				if t.hasNext() {
					if s, present := m.states[t.next]; present {
						m.releaseStateRef(s)
					}
				}
			}
		}
	}
	return stateHasContent(state)
}

// --- NumericEquals / NumericRange / CIDR: shared-prefix + shortcut trees ---

// addRangeChain builds the minimal subgraph accepting every encoded value in
// [lo, hi], sharing the equal-digit prefix with any other range on the same
// field and falling back to boundary recursion once lo and hi diverge
// (spec.md §4.3, §9).
func (m *ByteMachine) addRangeChain(state *byteState, lo []byte, loIncl bool, hi []byte, hiIncl bool, next *NameState) {
	if len(lo) == 0 {
		t := m.getOrCreateEdge(state, vt)
		attachMatch(t, &byteMatch{next: next})
		return
	}
	if lo[0] == hi[0] {
		child := m.getOrCreateChild(state, lo[0])
		m.addRangeChain(child, lo[1:], loIncl, hi[1:], hiIncl, next)
		return
	}

	loChild := m.getOrCreateChild(state, lo[0])
	m.addBound(loChild, lo[1:], loIncl, next, true)

	hiChild := m.getOrCreateChild(state, hi[0])
	m.addBound(hiChild, hi[1:], hiIncl, next, false)

	if hi[0]-lo[0] > 1 {
		anyState := m.newAnySuffixChain(len(lo)-1, next)
		state.shortcuts = append(state.shortcuts, shortcut{lo: lo[0] + 1, hi: hi[0] - 1, next: anyState.id})
		anyState.refcount++
	}
}

// addBound builds the "every suffix >= rest" (ge=true) or "every suffix <=
// rest" (ge=false) subtree from state, honoring inclusive at the exact
// boundary value itself.
func (m *ByteMachine) addBound(state *byteState, rest []byte, inclusive bool, next *NameState, ge bool) {
	if len(rest) == 0 {
		if inclusive {
			t := m.getOrCreateEdge(state, vt)
			attachMatch(t, &byteMatch{next: next})
		}
		return
	}
	d := rest[0]
	exactChild := m.getOrCreateChild(state, d)
	m.addBound(exactChild, rest[1:], inclusive, next, ge)

	var loShort, hiShort byte
	if ge {
		loShort, hiShort = d+1, 0xFF
	} else {
		loShort, hiShort = 0x00, d-1
	}
	if (ge && d == 0xFF) || (!ge && d == 0x00) {
		return // no byte left in the shortcut's direction
	}
	anyState := m.newAnySuffixChain(len(rest)-1, next)
	state.shortcuts = append(state.shortcuts, shortcut{lo: loShort, hi: hiShort, next: anyState.id})
	anyState.refcount++
}

// newAnySuffixChain builds (or would build, if not for the invariant below)
// a fresh chain of depth states accepting any remaining digitCount bytes
// followed by vt, exclusively owned by the caller. Depth 0 means the chain
// is just the terminal vt edge on a single fresh state.
func (m *ByteMachine) newAnySuffixChain(depth int, next *NameState) *byteState {
	root := m.newState()
	cur := root
	for i := 0; i < depth; i++ {
		child := m.newState()
		cur.shortcuts = append(cur.shortcuts, shortcut{lo: 0x00, hi: 0xFF, next: child.id})
		child.refcount++
		cur = child
	}
	t := m.getOrCreateEdge(cur, vt)
	attachMatch(t, &byteMatch{next: next})
	return root
}

// deleteRangeChain mirrors addRangeChain.
func (m *ByteMachine) deleteRangeChain(state *byteState, lo []byte, loIncl bool, hi []byte, hiIncl bool, next *NameState) bool {
	if len(lo) == 0 {
		t, ok := state.edges[vt]
		if !ok || !detachMatch(t, next) {
			return false
		}
		if t.match == nil && !t.hasNext() {
			delete(state.edges, vt)
		}
		return stateHasContent(state)
	}
	if lo[0] == hi[0] {
		t, ok := state.edges[int(lo[0])]
		if !ok || !t.hasNext() {
			return false
		}
		child := m.states[t.next]
		if !m.deleteRangeChain(child, lo[1:], loIncl, hi[1:], hiIncl, next) {
			m.removeEdge(state, int(lo[0]))
		}
		return stateHasContent(state)
	}

	found := false

	if t, ok := state.edges[int(lo[0])]; ok && t.hasNext() {
		child := m.states[t.next]
		if m.deleteBound(child, lo[1:], loIncl, next, true) {
			found = true
		}
	}

	if t, ok := state.edges[int(hi[0])]; ok && t.hasNext() {
		child := m.states[t.next]
		if m.deleteBound(child, hi[1:], hiIncl, next, false) {
			found = true
		}
	}

	if hi[0]-lo[0] > 1 {
		if m.deleteAnySuffixChain(state, lo[0]+1, hi[0]-1, len(lo)-1, next) {
			found = true
		}
	}

	// Boundary children are never removed here even if now empty: they
	// remain reachable structural entry points for lo[0]/hi[0] shared with
	// whatever else traverses those digits (exact-match chains reuse the
	// same getOrCreateChild edges). A genuinely orphaned child still gets
	// reclaimed the next time a shortcut or bound referencing it is torn
	// down and its refcount hits zero through releaseStateRef.
	return found
}

func (m *ByteMachine) deleteBound(state *byteState, rest []byte, inclusive bool, next *NameState, ge bool) bool {
	if len(rest) == 0 {
		if !inclusive {
			return false
		}
		t, ok := state.edges[vt]
		if !ok || !detachMatch(t, next) {
			return false
		}
		if t.match == nil && !t.hasNext() {
			delete(state.edges, vt)
		}
		return true
	}
	d := rest[0]
	found := false
	if t, ok := state.edges[int(d)]; ok && t.hasNext() {
		child := m.states[t.next]
		if m.deleteBound(child, rest[1:], inclusive, next, ge) {
			found = true
		}
	}
	if (ge && d == 0xFF) || (!ge && d == 0x00) {
		return found
	}
	var loShort, hiShort byte
	if ge {
		loShort, hiShort = d+1, 0xFF
	} else {
		loShort, hiShort = 0x00, d-1
	}
	if m.deleteAnySuffixChain(state, loShort, hiShort, len(rest)-1, next) {
		found = true
	}
	return found
}

// deleteAnySuffixChain removes the shortcut (lo, hi) from state and
// unconditionally tears down the any-suffix chain it led to: these chains
// are always freshly allocated and exclusively owned by one range pattern
// (see newAnySuffixChain), so no sharing check is needed.
func (m *ByteMachine) deleteAnySuffixChain(state *byteState, lo, hi byte, depth int, next *NameState) bool {
	for i, sc := range state.shortcuts {
		if sc.lo != lo || sc.hi != hi {
			continue
		}
		root, ok := m.states[sc.next]
		if !ok {
			continue
		}
		if !m.anySuffixChainMatches(root, depth, next) {
			continue
		}
		state.shortcuts = append(state.shortcuts[:i], state.shortcuts[i+1:]...)
		m.releaseStateRef(root)
		return true
	}
	return false
}

// anySuffixChainMatches checks that the chain at depth actually terminates
// in next, guarding against two different range patterns that happen to
// produce identically-shaped (lo, hi) shortcuts at the same state.
func (m *ByteMachine) anySuffixChainMatches(state *byteState, depth int, next *NameState) bool {
	if depth == 0 {
		t, ok := state.edges[vt]
		if !ok {
			return false
		}
		for cur := t.match; cur != nil; cur = cur.nextMatch {
			if cur.next == next {
				return true
			}
		}
		return false
	}
	for _, sc := range state.shortcuts {
		if sc.lo == 0x00 && sc.hi == 0xFF {
			if child, ok := m.states[sc.next]; ok && m.anySuffixChainMatches(child, depth-1, next) {
				return true
			}
		}
	}
	return false
}
