package segments

import (
	"encoding/json"
	"fmt"
)

// Operator is a leaf comparison over a user attribute.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
)

// Logic joins the conditions of a composite predicate.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Predicate is one node of a segment's predicate tree. A leaf carries
// attribute/operator/value; a composite carries conditions/logic. The
// two forms are mutually exclusive.
type Predicate struct {
	// Leaf fields
	Attribute string   `json:"attribute,omitempty"`
	Operator  Operator `json:"operator,omitempty"`
	Value     string   `json:"value,omitempty"`

	// Composite fields
	Conditions []Predicate `json:"conditions,omitempty"`
	Logic      Logic       `json:"logic,omitempty"`
}

// IsLeaf reports whether p is a leaf comparison.
func (p *Predicate) IsLeaf() bool {
	return len(p.Conditions) == 0
}

// Validate checks the predicate tree against the grammar. Unknown
// operators and malformed nodes are rejected at the API boundary so
// they never reach query compilation.
func (p *Predicate) Validate() error {
	if p.IsLeaf() {
		if p.Attribute == "" {
			return fmt.Errorf("leaf predicate missing attribute")
		}
		switch p.Operator {
		case OpEquals, OpContains:
		default:
			return fmt.Errorf("unknown operator %q for attribute %q", p.Operator, p.Attribute)
		}
		return nil
	}
	if p.Attribute != "" || p.Operator != "" {
		return fmt.Errorf("predicate mixes leaf and composite fields")
	}
	switch p.Logic {
	case LogicAnd, LogicOr:
	default:
		return fmt.Errorf("unknown logic %q", p.Logic)
	}
	for i := range p.Conditions {
		if err := p.Conditions[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Parse decodes and validates a predicate tree from its stored JSON.
func Parse(raw []byte) (*Predicate, error) {
	var p Predicate
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse segment predicate: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
