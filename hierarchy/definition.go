package hierarchy

import (
	"errors"

	mat_ "github.com/danigiro/tafs-reco/mat"
)

var ErrEmptyDefinition = errors.New("definition has neither aggregation rows nor nodes")

// Definition is the serializable form of a Hierarchy, either as explicit
// aggregation-matrix rows or as parent/child nodes. When both are present the
// aggregation rows win.
type Definition struct {
	Labels      []string    `json:"labels,omitempty"`
	Aggregation [][]float64 `json:"aggregation,omitempty"`
	Nodes       []Node      `json:"nodes,omitempty"`
}

// NewFromDefinition builds a Hierarchy from a deserialized definition.
func NewFromDefinition(def *Definition) (*Hierarchy, error) {
	if def == nil {
		return nil, ErrEmptyDefinition
	}
	if len(def.Aggregation) > 0 {
		c, err := mat_.NewDenseFromArray(def.Aggregation)
		if err != nil {
			return nil, err
		}
		return New(c, def.Labels)
	}
	if len(def.Nodes) > 0 {
		return NewFromNodes(def.Nodes)
	}
	return nil, ErrEmptyDefinition
}

// Definition returns the aggregation-matrix form of the hierarchy for
// serialization.
func (h *Hierarchy) Definition() *Definition {
	rows := make([][]float64, h.na)
	for i := 0; i < h.na; i++ {
		rows[i] = make([]float64, h.nb)
		for j := 0; j < h.nb; j++ {
			rows[i][j] = h.c.At(i, j)
		}
	}
	return &Definition{
		Labels:      h.Labels(),
		Aggregation: rows,
	}
}
