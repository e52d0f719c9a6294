package segments

import (
	"fmt"
	"strings"
)

// compiler turns a predicate tree into a WHERE fragment with $n
// placeholders. One instance per compilation; not safe for reuse.
type compiler struct {
	args       []interface{}
	argCounter int
}

func (c *compiler) nextArg(value interface{}) string {
	c.args = append(c.args, value)
	placeholder := fmt.Sprintf("$%d", c.argCounter)
	c.argCounter++
	return placeholder
}

// Compile produces the WHERE fragment selecting users that satisfy p.
// A nil predicate compiles to the default audience: every user with
// consent_state = OPT_IN. Placeholders start at $1; callers appending
// further conditions continue from len(args)+1.
func Compile(p *Predicate) (string, []interface{}, error) {
	c := &compiler{argCounter: 1}
	if p == nil {
		return fmt.Sprintf("u.consent_state = %s", c.nextArg("OPT_IN")), c.args, nil
	}
	if err := p.Validate(); err != nil {
		return "", nil, err
	}
	clause, err := c.compileNode(p)
	if err != nil {
		return "", nil, err
	}
	return clause, c.args, nil
}

func (c *compiler) compileNode(p *Predicate) (string, error) {
	if p.IsLeaf() {
		return c.compileLeaf(p)
	}

	parts := make([]string, 0, len(p.Conditions))
	for i := range p.Conditions {
		sub, err := c.compileNode(&p.Conditions[i])
		if err != nil {
			return "", err
		}
		parts = append(parts, sub)
	}
	joiner := " AND "
	if p.Logic == LogicOr {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

func (c *compiler) compileLeaf(p *Predicate) (string, error) {
	// consent_state is a first-class column; everything else lives in
	// the attributes JSONB map and compares as text.
	field := "u.consent_state"
	if p.Attribute != "consent_state" {
		field = fmt.Sprintf("COALESCE(u.attributes->>%s, '')", c.nextArg(p.Attribute))
	}

	switch p.Operator {
	case OpEquals:
		return fmt.Sprintf("%s = %s", field, c.nextArg(p.Value)), nil
	case OpContains:
		return fmt.Sprintf("%s ILIKE %s", field, c.nextArg("%"+escapeLike(p.Value)+"%")), nil
	default:
		return "", fmt.Errorf("unsupported operator: %s", p.Operator)
	}
}

// escapeLike neutralizes LIKE metacharacters in user-supplied values
// so contains means literal substring.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
