package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	got, err := Render("Hi {name}, your order {order_id} shipped", map[string]string{
		"name":     "Ada",
		"order_id": "A-100",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, your order A-100 shipped", got)
}

func TestRenderNoPlaceholders(t *testing.T) {
	got, err := Render("Flash sale today only", nil)
	require.NoError(t, err)
	assert.Equal(t, "Flash sale today only", got)
}

func TestRenderMissingAttribute(t *testing.T) {
	_, err := Render("Hi {name}", map[string]string{})
	var missing *MissingAttributeError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"name"}, missing.Names)
}

func TestRenderEmptyAttributeCountsAsMissing(t *testing.T) {
	_, err := Render("Hi {name} {last}", map[string]string{"name": "", "last": "Lovelace"})
	var missing *MissingAttributeError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"name"}, missing.Names)
}

func TestRenderCollectsAllMissing(t *testing.T) {
	_, err := Render("{a} {b} {a} {c}", map[string]string{"b": "x"})
	var missing *MissingAttributeError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"a", "c"}, missing.Names)
}

func TestRenderNonPlaceholderBracesPassThrough(t *testing.T) {
	// Content outside the {identifier} grammar is left alone.
	got, err := Render("set {1x} and { spaced } and {} literally", nil)
	require.NoError(t, err)
	assert.Equal(t, "set {1x} and { spaced } and {} literally", got)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"name", "city"}, Placeholders("Hi {name} from {city}, {name}!"))
	assert.Empty(t, Placeholders("no params"))
}
