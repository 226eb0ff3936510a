// Package bitmap provides the fixed-size node set used for membership
// lists and connectivity rows.
package bitmap

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// MaxNodes is the largest roster a Set can describe.
const MaxNodes = 256

const words = MaxNodes / 64

var (
	ErrIndexRange = errors.New("bitmap: index out of range")
	ErrEncoding   = errors.New("bitmap: invalid encoding")
)

// Set is a value type; copies are independent.
type Set struct {
	w [words]uint64
}

// Of returns a set holding the given indices. It panics on an out of range
// index, which is always a caller bug.
func Of(indices ...int) Set {
	var s Set
	for _, i := range indices {
		s.Add(i)
	}
	return s
}

func check(i int) {
	if i < 0 || i >= MaxNodes {
		panic(fmt.Errorf("%w: %d", ErrIndexRange, i))
	}
}

func (s *Set) Add(i int) {
	check(i)
	s.w[i/64] |= 1 << uint(i%64)
}

func (s *Set) Remove(i int) {
	check(i)
	s.w[i/64] &^= 1 << uint(i%64)
}

// Has reports membership. Out of range indices are never members.
func (s Set) Has(i int) bool {
	if i < 0 || i >= MaxNodes {
		return false
	}
	return s.w[i/64]&(1<<uint(i%64)) != 0
}

func (s Set) Len() int {
	n := 0
	for _, w := range s.w {
		n += bits.OnesCount64(w)
	}
	return n
}

func (s Set) Empty() bool {
	return s == Set{}
}

func (s Set) Equal(o Set) bool {
	return s == o
}

func (s Set) Intersect(o Set) Set {
	var r Set
	for i := range s.w {
		r.w[i] = s.w[i] & o.w[i]
	}
	return r
}

func (s Set) Union(o Set) Set {
	var r Set
	for i := range s.w {
		r.w[i] = s.w[i] | o.w[i]
	}
	return r
}

// Without returns s minus o.
func (s Set) Without(o Set) Set {
	var r Set
	for i := range s.w {
		r.w[i] = s.w[i] &^ o.w[i]
	}
	return r
}

// SubsetOf reports whether every member of s is in o.
func (s Set) SubsetOf(o Set) bool {
	return s.Without(o).Empty()
}

// Min returns the lowest member, or -1 for the empty set.
func (s Set) Min() int {
	for i, w := range s.w {
		if w != 0 {
			return i*64 + bits.TrailingZeros64(w)
		}
	}
	return -1
}

// Max returns the highest member, or -1 for the empty set.
func (s Set) Max() int {
	for i := words - 1; i >= 0; i-- {
		if w := s.w[i]; w != 0 {
			return i*64 + 63 - bits.LeadingZeros64(w)
		}
	}
	return -1
}

// Members lists the indices in ascending order.
func (s Set) Members() []int {
	out := make([]int, 0, s.Len())
	s.Each(func(i int) {
		out = append(out, i)
	})
	return out
}

// Each calls fn for every member in ascending order.
func (s Set) Each(fn func(i int)) {
	for wi, w := range s.w {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			fn(wi*64 + b)
			w &^= 1 << uint(b)
		}
	}
}

func (s Set) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	s.Each(func(i int) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		fmt.Fprintf(&b, "%d", i)
	})
	b.WriteByte('}')
	return b.String()
}

// Bytes packs the set little-endian, bit i of byte i/8 for index i, trimmed
// of trailing zero bytes.
func (s Set) Bytes() []byte {
	hi := s.Max()
	if hi < 0 {
		return nil
	}
	out := make([]byte, hi/8+1)
	s.Each(func(i int) {
		out[i/8] |= 1 << uint(i%8)
	})
	return out
}

// FromBytes is the inverse of Bytes.
func FromBytes(b []byte) (Set, error) {
	var s Set
	if len(b) > MaxNodes/8 {
		return s, fmt.Errorf("%w: %d bytes", ErrEncoding, len(b))
	}
	for bi, v := range b {
		for v != 0 {
			bit := bits.TrailingZeros8(v)
			s.Add(bi*8 + bit)
			v &^= 1 << uint(bit)
		}
	}
	return s, nil
}

// Encode renders the wire form: standard base64 of Bytes. The empty set
// encodes to "".
func (s Set) Encode() string {
	return base64.StdEncoding.EncodeToString(s.Bytes())
}

// Decode parses the wire form produced by Encode.
func Decode(str string) (Set, error) {
	raw, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return Set{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return FromBytes(raw)
}
