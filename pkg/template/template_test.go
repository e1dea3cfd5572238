package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	result, err := Render("Hi {{.first_name}}, your deal {{.deal_title}} expires soon!", map[string]any{
		"first_name": "Ana",
		"deal_title": "50% off hosting",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana, your deal 50% off hosting expires soon!", result.Output)
	assert.Empty(t, result.Warnings)
}

func TestRender_MissingTokenRendersPlaceholder(t *testing.T) {
	result, err := Render("Hi {{.first_name}}, welcome!", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Hi [first_name], welcome!", result.Output)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "first_name")
}

func TestRender_NilTokenValue(t *testing.T) {
	result, err := Render("Hi {{.first_name}}", map[string]any{"first_name": nil})
	require.NoError(t, err)
	assert.Equal(t, "Hi [first_name]", result.Output)
	assert.Len(t, result.Warnings, 1)
}

func TestRender_InvalidTemplate(t *testing.T) {
	_, err := Render("Hi {{.first_name", nil)
	require.Error(t, err)
}

func TestTokens(t *testing.T) {
	tokens := Tokens("{{.a}} {{ .b }} {{.a}} plain text")
	assert.Equal(t, []string{"a", "b"}, tokens)
}

func TestTokens_None(t *testing.T) {
	assert.Empty(t, Tokens("no tokens here"))
}
