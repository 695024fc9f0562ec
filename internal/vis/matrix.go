package vis

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Matrix is a square cluster visibility matrix. Bit a*n+b is set when
// cluster a may see cluster b.
type Matrix struct {
	n    int
	bits *bitset.BitSet
}

// NewMatrix returns an n by n matrix with nothing visible.
func NewMatrix(n int) *Matrix {
	return &Matrix{n: n, bits: bitset.New(uint(n * n))}
}

// Full returns a matrix where every cluster sees every other.
func Full(n int) *Matrix {
	m := NewMatrix(n)
	for i := 0; i < n*n; i++ {
		m.bits.Set(uint(i))
	}
	return m
}

// Len returns the number of clusters.
func (m *Matrix) Len() int { return m.n }

func (m *Matrix) index(a, b int) uint {
	return uint(a*m.n + b)
}

// Set marks b visible from a.
func (m *Matrix) Set(a, b int) {
	m.bits.Set(m.index(a, b))
}

// CanSee reports whether a may see b.
func (m *Matrix) CanSee(a, b int) bool {
	return m.bits.Test(m.index(a, b))
}

// SetRow marks every cluster in row visible from a.
func (m *Matrix) SetRow(a int, row *bitset.BitSet) {
	for b, ok := row.NextSet(0); ok && int(b) < m.n; b, ok = row.NextSet(b + 1) {
		m.Set(a, int(b))
	}
}

// Row returns the clusters visible from a.
func (m *Matrix) Row(a int) *bitset.BitSet {
	row := bitset.New(uint(m.n))
	for b := 0; b < m.n; b++ {
		if m.CanSee(a, b) {
			row.Set(uint(b))
		}
	}
	return row
}

// Symmetrize makes visibility mutual: a sees b whenever b sees a.
func (m *Matrix) Symmetrize() {
	for a := 0; a < m.n; a++ {
		for b := a + 1; b < m.n; b++ {
			if m.CanSee(a, b) || m.CanSee(b, a) {
				m.Set(a, b)
				m.Set(b, a)
			}
		}
	}
}

// Intersect keeps only the bits also set in o.
func (m *Matrix) Intersect(o *Matrix) {
	m.bits.InPlaceIntersection(o.bits)
}

// SubsetOf reports whether every bit of m is set in o.
func (m *Matrix) SubsetOf(o *Matrix) bool {
	return m.n == o.n && o.bits.IsSuperSet(m.bits)
}

// Equal reports whether both matrices hold the same bits.
func (m *Matrix) Equal(o *Matrix) bool {
	return m.n == o.n && m.bits.Equal(o.bits)
}

// Count returns the number of visible pairs.
func (m *Matrix) Count() int {
	return int(m.bits.Count())
}

// Bytes packs the matrix least significant bit first, the layout of the
// world vis lump.
func (m *Matrix) Bytes() []byte {
	out := make([]byte, (m.n*m.n+7)/8)
	for i, ok := m.bits.NextSet(0); ok; i, ok = m.bits.NextSet(i + 1) {
		out[i>>3] |= 1 << (i & 7)
	}
	return out
}

// MatrixFromBytes unpacks a vis lump for n clusters.
func MatrixFromBytes(n int, data []byte) (*Matrix, error) {
	if len(data) != (n*n+7)/8 {
		return nil, fmt.Errorf("vis data is %d bytes, want %d for %d clusters", len(data), (n*n+7)/8, n)
	}
	m := NewMatrix(n)
	for i := 0; i < n*n; i++ {
		if data[i>>3]&(1<<(i&7)) != 0 {
			m.bits.Set(uint(i))
		}
	}
	return m, nil
}
