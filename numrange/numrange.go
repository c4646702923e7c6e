// Package numrange represents numeric and CIDR intervals as pairs of
// ComparableNumber / IP byte-string endpoints, so the byte machine can test
// membership with ordinary byte-range comparisons instead of arithmetic.
package numrange

import (
	"bytes"
	"fmt"
	"net/netip"

	"github.com/coregx/ruler/number"
)

// Range is a half-open, open, or closed interval over fixed-width encoded
// byte strings. Lo and Hi must be equal-length byte strings in the same
// encoding (either both number.Encode output, or both 4-byte IPv4 or both
// 16-byte IPv6 addresses from CIDR compilation).
type Range struct {
	Lo          []byte
	LoInclusive bool
	Hi          []byte
	HiInclusive bool

	// IsCIDR marks a range derived from CompileCIDR, informing callers that
	// may want to label the originating pattern differently (anything-but
	// error messages, Describe() dumps) without re-deriving it.
	IsCIDR bool
}

// Contains reports whether v falls within the range, honoring the
// inclusivity flags at each endpoint. v must be the same fixed width as
// Lo and Hi.
func (r Range) Contains(v []byte) bool {
	cmpLo := bytes.Compare(v, r.Lo)
	if cmpLo < 0 || (cmpLo == 0 && !r.LoInclusive) {
		return false
	}
	cmpHi := bytes.Compare(v, r.Hi)
	if cmpHi > 0 || (cmpHi == 0 && !r.HiInclusive) {
		return false
	}
	return true
}

// NumericRange builds a Range over two decimal literals, encoding each with
// package number. lo must be <= hi once encoded, matching the normalized
// rule parser's contract that a two-sided numeric range already defines a
// non-empty interval (spec.md §6).
func NumericRange(lo string, loInclusive bool, hi string, hiInclusive bool) (Range, error) {
	loBytes, err := number.Encode(lo)
	if err != nil {
		return Range{}, fmt.Errorf("numrange: lower bound: %w", err)
	}
	hiBytes, err := number.Encode(hi)
	if err != nil {
		return Range{}, fmt.Errorf("numrange: upper bound: %w", err)
	}
	cmp := bytes.Compare(loBytes, hiBytes)
	if cmp > 0 {
		return Range{}, fmt.Errorf("numrange: empty interval: %s > %s", lo, hi)
	}
	if cmp == 0 && !(loInclusive && hiInclusive) {
		return Range{}, fmt.Errorf("numrange: empty interval: (%s, %s) excludes its only candidate value", lo, hi)
	}
	return Range{Lo: loBytes, LoInclusive: loInclusive, Hi: hiBytes, HiInclusive: hiInclusive}, nil
}

// CompileCIDR compiles a CIDR block (e.g. "10.0.0.0/30") into a Range over
// the big-endian encoding of its lowest and highest addresses
// (IPv4 addresses are encoded in their 4-byte form; IPv6 in 16-byte form —
// the two families are never compared against each other). Both endpoints
// are inclusive, so a lone address and its /32 (or /128) CIDR compile to
// equal Ranges, per spec.md §4.2.
func CompileCIDR(cidr string) (Range, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		// Allow a bare address, treated as the most specific prefix.
		addr, addrErr := netip.ParseAddr(cidr)
		if addrErr != nil {
			return Range{}, fmt.Errorf("numrange: invalid CIDR %q: %w", cidr, err)
		}
		bits := 32
		if addr.Is6() && !addr.Is4In6() {
			bits = 128
		}
		prefix = netip.PrefixFrom(addr, bits)
	}
	prefix = prefix.Masked()

	lo := prefix.Addr()
	hi := lastAddr(prefix)

	loBytes := addrBytes(lo)
	hiBytes := addrBytes(hi)

	return Range{
		Lo: loBytes, LoInclusive: true,
		Hi: hiBytes, HiInclusive: true,
		IsCIDR: true,
	}, nil
}

// addrBytes returns the canonical byte encoding for an address: 4 bytes for
// IPv4 (including IPv4-in-IPv6), 16 bytes for native IPv6. Keeping the two
// families distinct widths means a v4 CIDR range's bytes never accidentally
// overlap with a v6 value's bytes during a traversal.
func addrBytes(a netip.Addr) []byte {
	if a.Is4In6() {
		a = a.Unmap()
	}
	b := a.As16()
	if a.Is4() {
		v4 := a.As4()
		return v4[:]
	}
	return b[:]
}

// lastAddr computes the highest address in prefix by setting every host bit.
func lastAddr(prefix netip.Prefix) netip.Addr {
	addr := prefix.Addr()
	bits := addr.BitLen()
	ones := prefix.Bits()

	b := addr.As16()
	n := bits / 8
	start := len(b) - n
	for i := start; i < len(b); i++ {
		bitIdx := (i - start) * 8
		if bitIdx+8 <= ones {
			continue
		}
		if bitIdx >= ones {
			b[i] = 0xFF
			continue
		}
		keep := ones - bitIdx
		mask := byte(0xFF) >> uint(keep)
		b[i] |= mask
	}
	out := netip.AddrFrom16(b)
	if addr.Is4() {
		out = out.Unmap()
	}
	return out
}
