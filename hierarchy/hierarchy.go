// Package hierarchy builds the linear constraint systems describing how a
// collection of time series must aggregate: cross-sectional summing
// structures, temporal aggregation structures, and their cross-temporal
// combination. All values are derived once from static metadata and are
// immutable afterwards.
package hierarchy

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoAggregates     = errors.New("hierarchy has no aggregate series")
	ErrNoBottom         = errors.New("hierarchy has no bottom series")
	ErrEmptyAggregate   = errors.New("aggregate series sums no bottom series")
	ErrNotFinite        = errors.New("aggregation coefficient is not finite")
	ErrNoIdentityBlock  = errors.New("summing matrix has no identity block for the bottom series")
	ErrLabelCount       = errors.New("label count does not match series count")
	ErrUnknownParent    = errors.New("node references an unknown parent")
	ErrDuplicateLabel   = errors.New("duplicate node label")
	ErrAggregationCycle = errors.New("aggregation graph contains a cycle")
	ErrDimMismatch      = errors.New("vector length does not match series count")
)

// Hierarchy describes a cross-sectional aggregation structure of n series
// split into na upper (aggregate) series followed by nb bottom series.
// Coherent vectors x satisfy x = S*b for the bottom sub-vector b, or
// equivalently Ut*x = 0.
type Hierarchy struct {
	labels []string

	c  *mat.Dense // na x nb aggregation coefficients
	s  *mat.Dense // n x nb summing matrix, aggregates stacked over identity
	ut *mat.Dense // na x n zero-constraint matrix [I | -C]

	na int
	nb int
}

// New builds a Hierarchy from its aggregation matrix. Rows of c are the upper
// series, columns the bottom series. Labels are optional; when provided they
// must cover all n series in upper-then-bottom order.
func New(c *mat.Dense, labels []string) (*Hierarchy, error) {
	if c == nil {
		return nil, ErrNoAggregates
	}
	na, nb := c.Dims()
	if na == 0 {
		return nil, ErrNoAggregates
	}
	if nb == 0 {
		return nil, ErrNoBottom
	}
	if labels != nil && len(labels) != na+nb {
		return nil, fmt.Errorf("got %d labels for %d series, %w", len(labels), na+nb, ErrLabelCount)
	}
	for i := 0; i < na; i++ {
		var nonzero bool
		for j := 0; j < nb; j++ {
			v := c.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("at row %d col %d, %w", i, j, ErrNotFinite)
			}
			if v != 0 {
				nonzero = true
			}
		}
		if !nonzero {
			return nil, fmt.Errorf("at row %d, %w", i, ErrEmptyAggregate)
		}
	}

	h := &Hierarchy{
		c:  mat.DenseCopyOf(c),
		na: na,
		nb: nb,
	}
	if labels != nil {
		h.labels = make([]string, len(labels))
		copy(h.labels, labels)
	}
	h.derive()
	return h, nil
}

// NewFromSumming builds a Hierarchy from a summing matrix, the equivalent
// constraint representation. The last nb rows must form an identity block.
func NewFromSumming(s *mat.Dense, labels []string) (*Hierarchy, error) {
	if s == nil {
		return nil, ErrNoAggregates
	}
	n, nb := s.Dims()
	na := n - nb
	if na <= 0 {
		return nil, ErrNoAggregates
	}
	for i := 0; i < nb; i++ {
		for j := 0; j < nb; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if s.At(na+i, j) != want {
				return nil, fmt.Errorf("at summing row %d, %w", na+i, ErrNoIdentityBlock)
			}
		}
	}
	return New(s.Slice(0, na, 0, nb).(*mat.Dense), labels)
}

// Node is a parent/child entry for building a hierarchy from edge metadata.
// A node with an empty Parent is a root aggregate. Nodes that never appear as
// a parent are the bottom series.
type Node struct {
	Label  string `json:"label"`
	Parent string `json:"parent,omitempty"`
}

// NewFromNodes builds a Hierarchy from parent/child metadata. Series order is
// first-seen order, aggregates before bottom.
func NewFromNodes(nodes []Node) (*Hierarchy, error) {
	if len(nodes) == 0 {
		return nil, ErrNoAggregates
	}
	parent := make(map[string]string, len(nodes))
	isParent := make(map[string]bool, len(nodes))
	order := make([]string, 0, len(nodes))
	for _, nd := range nodes {
		if _, ok := parent[nd.Label]; ok {
			return nil, fmt.Errorf("%q, %w", nd.Label, ErrDuplicateLabel)
		}
		parent[nd.Label] = nd.Parent
		order = append(order, nd.Label)
		if nd.Parent != "" {
			isParent[nd.Parent] = true
		}
	}
	for label, p := range parent {
		if p == "" {
			continue
		}
		if _, ok := parent[p]; !ok {
			return nil, fmt.Errorf("%q -> %q, %w", label, p, ErrUnknownParent)
		}
	}

	var uppers, bottoms []string
	for _, label := range order {
		if isParent[label] {
			uppers = append(uppers, label)
		} else {
			bottoms = append(bottoms, label)
		}
	}
	if len(uppers) == 0 {
		return nil, ErrNoAggregates
	}
	if len(bottoms) == 0 {
		return nil, ErrNoBottom
	}

	upperIdx := make(map[string]int, len(uppers))
	for i, label := range uppers {
		upperIdx[label] = i
	}

	// accumulate each bottom series into every ancestor, bounding the walk by
	// the node count to catch cycles
	c := mat.NewDense(len(uppers), len(bottoms), nil)
	for j, label := range bottoms {
		p := parent[label]
		for steps := 0; p != ""; steps++ {
			if steps > len(nodes) {
				return nil, fmt.Errorf("walking up from %q, %w", label, ErrAggregationCycle)
			}
			i := upperIdx[p]
			c.Set(i, j, c.At(i, j)+1.0)
			p = parent[p]
		}
	}

	labels := make([]string, 0, len(uppers)+len(bottoms))
	labels = append(labels, uppers...)
	labels = append(labels, bottoms...)
	return New(c, labels)
}

func (h *Hierarchy) derive() {
	n := h.na + h.nb

	s := mat.NewDense(n, h.nb, nil)
	for i := 0; i < h.na; i++ {
		for j := 0; j < h.nb; j++ {
			s.Set(i, j, h.c.At(i, j))
		}
	}
	for j := 0; j < h.nb; j++ {
		s.Set(h.na+j, j, 1.0)
	}
	h.s = s

	ut := mat.NewDense(h.na, n, nil)
	for i := 0; i < h.na; i++ {
		ut.Set(i, i, 1.0)
		for j := 0; j < h.nb; j++ {
			ut.Set(i, h.na+j, -h.c.At(i, j))
		}
	}
	h.ut = ut
}

// Dims returns the total, upper and bottom series counts.
func (h *Hierarchy) Dims() (n, na, nb int) {
	return h.na + h.nb, h.na, h.nb
}

// Aggregation returns the na x nb aggregation matrix C.
func (h *Hierarchy) Aggregation() *mat.Dense {
	return mat.DenseCopyOf(h.c)
}

// Summing returns the n x nb summing matrix S with the aggregate rows stacked
// over the bottom identity block.
func (h *Hierarchy) Summing() *mat.Dense {
	return mat.DenseCopyOf(h.s)
}

// ZeroConstraint returns the na x n matrix Ut with Ut*x = 0 exactly when x is
// coherent.
func (h *Hierarchy) ZeroConstraint() *mat.Dense {
	return mat.DenseCopyOf(h.ut)
}

// Leaves returns, per series, the absolute row sum of the summing matrix: the
// number of bottom series aggregated into each node for 0/1 hierarchies.
// Bottom series count themselves, so every entry is at least 1.
func (h *Hierarchy) Leaves() []float64 {
	n := h.na + h.nb
	leaves := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < h.nb; j++ {
			sum += math.Abs(h.s.At(i, j))
		}
		leaves[i] = sum
	}
	return leaves
}

// BottomPositions returns the offsets of the bottom series, the last nb
// entries of a coherent vector.
func (h *Hierarchy) BottomPositions() []int {
	pos := make([]int, h.nb)
	for j := 0; j < h.nb; j++ {
		pos[j] = h.na + j
	}
	return pos
}

// Labels returns the series labels in upper-then-bottom order, or nil when the
// hierarchy was built without labels.
func (h *Hierarchy) Labels() []string {
	if h.labels == nil {
		return nil
	}
	dst := make([]string, len(h.labels))
	copy(dst, h.labels)
	return dst
}

// Discrepancy returns max|Ut*x|, the largest absolute violation of the
// aggregation constraints. A coherent vector scores zero up to roundoff.
func (h *Hierarchy) Discrepancy(x []float64) (float64, error) {
	n := h.na + h.nb
	if len(x) != n {
		return 0, fmt.Errorf("got %d values for %d series, %w", len(x), n, ErrDimMismatch)
	}
	v := mat.NewVecDense(n, x)
	res := mat.NewVecDense(h.na, nil)
	res.MulVec(h.ut, v)

	var worst float64
	for i := 0; i < h.na; i++ {
		if d := math.Abs(res.AtVec(i)); d > worst {
			worst = d
		}
	}
	return worst, nil
}

// Aggregate computes the full coherent vector S*b from a bottom-level vector.
func (h *Hierarchy) Aggregate(bottom []float64) ([]float64, error) {
	if len(bottom) != h.nb {
		return nil, fmt.Errorf("got %d bottom values for %d bottom series, %w", len(bottom), h.nb, ErrDimMismatch)
	}
	n := h.na + h.nb
	res := mat.NewVecDense(n, nil)
	res.MulVec(h.s, mat.NewVecDense(h.nb, bottom))

	out := make([]float64, n)
	copy(out, res.RawVector().Data)
	return out, nil
}
