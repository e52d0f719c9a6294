package segments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileNilPredicate(t *testing.T) {
	clause, args, err := Compile(nil)
	require.NoError(t, err)
	assert.Equal(t, "u.consent_state = $1", clause)
	assert.Equal(t, []interface{}{"OPT_IN"}, args)
}

func TestCompileLeafEquals(t *testing.T) {
	clause, args, err := Compile(&Predicate{Attribute: "city", Operator: OpEquals, Value: "Lisbon"})
	require.NoError(t, err)
	assert.Equal(t, "COALESCE(u.attributes->>$1, '') = $2", clause)
	assert.Equal(t, []interface{}{"city", "Lisbon"}, args)
}

func TestCompileLeafConsentColumn(t *testing.T) {
	clause, args, err := Compile(&Predicate{Attribute: "consent_state", Operator: OpEquals, Value: "OPT_IN"})
	require.NoError(t, err)
	assert.Equal(t, "u.consent_state = $1", clause)
	assert.Equal(t, []interface{}{"OPT_IN"}, args)
}

func TestCompileLeafConsentContains(t *testing.T) {
	clause, args, err := Compile(&Predicate{Attribute: "consent_state", Operator: OpContains, Value: "OPT"})
	require.NoError(t, err)
	assert.Equal(t, "u.consent_state ILIKE $1", clause)
	assert.Equal(t, []interface{}{"%OPT%"}, args)
}

func TestCompileLeafContains(t *testing.T) {
	clause, args, err := Compile(&Predicate{Attribute: "plan", Operator: OpContains, Value: "pro"})
	require.NoError(t, err)
	assert.Equal(t, "COALESCE(u.attributes->>$1, '') ILIKE $2", clause)
	assert.Equal(t, []interface{}{"plan", "%pro%"}, args)
}

func TestCompileContainsEscapesLikeMeta(t *testing.T) {
	_, args, err := Compile(&Predicate{Attribute: "note", Operator: OpContains, Value: "50%_off"})
	require.NoError(t, err)
	assert.Equal(t, `%50\%\_off%`, args[1])
}

func TestCompileComposite(t *testing.T) {
	pred := &Predicate{
		Logic: LogicAnd,
		Conditions: []Predicate{
			{Attribute: "consent_state", Operator: OpEquals, Value: "OPT_IN"},
			{
				Logic: LogicOr,
				Conditions: []Predicate{
					{Attribute: "city", Operator: OpEquals, Value: "Lisbon"},
					{Attribute: "city", Operator: OpEquals, Value: "Porto"},
				},
			},
		},
	}
	clause, args, err := Compile(pred)
	require.NoError(t, err)
	assert.Equal(t,
		"(u.consent_state = $1 AND (COALESCE(u.attributes->>$2, '') = $3 OR COALESCE(u.attributes->>$4, '') = $5))",
		clause)
	assert.Equal(t, []interface{}{"OPT_IN", "city", "Lisbon", "city", "Porto"}, args)
}

func TestValidateRejectsUnknownOperator(t *testing.T) {
	err := (&Predicate{Attribute: "city", Operator: "regex", Value: "x"}).Validate()
	assert.Error(t, err)
}

func TestValidateRejectsUnknownLogic(t *testing.T) {
	err := (&Predicate{
		Logic:      "XOR",
		Conditions: []Predicate{{Attribute: "a", Operator: OpEquals, Value: "1"}},
	}).Validate()
	assert.Error(t, err)
}

func TestValidateRejectsMixedNode(t *testing.T) {
	err := (&Predicate{
		Attribute:  "city",
		Logic:      LogicAnd,
		Conditions: []Predicate{{Attribute: "a", Operator: OpEquals, Value: "1"}},
	}).Validate()
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	raw := []byte(`{"logic":"OR","conditions":[
		{"attribute":"tier","operator":"equals","value":"gold"},
		{"attribute":"tier","operator":"contains","value":"silver"}
	]}`)
	p, err := Parse(raw)
	require.NoError(t, err)
	assert.False(t, p.IsLeaf())
	assert.Len(t, p.Conditions, 2)

	_, err = Parse([]byte(`{"attribute":"x","operator":"gt","value":"1"}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}
