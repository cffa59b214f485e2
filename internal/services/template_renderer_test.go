package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRenderer(t *testing.T) {
	r := NewTemplateRenderer()

	out, err := r.Render("", "Total: ${{ budget | money }} for {{ name }}", map[string]interface{}{
		"budget": 1250.50,
		"name":   "Acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "Total: $1250.5 for Acme", out)

	out, err = r.Render("", "{{ missing }}|", nil)
	require.NoError(t, err)
	assert.Equal(t, "|", out)

	assert.Error(t, r.Validate("{% nosuchtag %}"))
	assert.NoError(t, r.Validate("plain text"))
}

func TestTemplateRenderer_CachesByKey(t *testing.T) {
	r := NewTemplateRenderer()

	first, err := r.Render("k", "v1 {{ x }}", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "v1 1", first)

	// same key reuses the parsed template
	second, err := r.Render("k", "v2 {{ x }}", map[string]interface{}{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, "v1 2", second)
}
