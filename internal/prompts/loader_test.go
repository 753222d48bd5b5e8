package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_ValidPrompt(t *testing.T) {
	ClearCache()

	prompt, err := Get("research.json", "generate-queries")
	require.NoError(t, err)
	assert.NotEmpty(t, prompt)
	assert.Contains(t, prompt, "JSON array of strings")
}

func TestGet_InvalidFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "some-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")
}

func TestGet_InvalidKey(t *testing.T) {
	ClearCache()

	_, err := Get("research.json", "nonexistent-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet_Panics(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() {
		MustGet("nonexistent.json", "some-key")
	})
}

func TestCategoryPromptsExist(t *testing.T) {
	ClearCache()

	for _, key := range []string{"focus-company", "focus-industry", "focus-financial", "focus-news"} {
		prompt, err := Get("research.json", key)
		require.NoError(t, err, key)
		assert.NotEmpty(t, prompt)
	}
	for _, key := range []string{"briefing-company", "briefing-industry", "briefing-financial", "briefing-news", "briefing-default", "briefing-body"} {
		prompt, err := Get("briefing.json", key)
		require.NoError(t, err, key)
		assert.NotEmpty(t, prompt)
	}
}

func TestFormat(t *testing.T) {
	template := "Researching {{.Company}} in {{.Industry}}"
	data := map[string]string{
		"Company":  "Acme Corp",
		"Industry": "Robotics",
	}

	result := Format(template, data)
	assert.Equal(t, "Researching Acme Corp in Robotics", result)
}

func TestFormat_EmptyData(t *testing.T) {
	template := "Hello {{.Name}}"
	result := Format(template, map[string]string{})
	assert.Equal(t, template, result) // Placeholder remains
}

func TestCaching(t *testing.T) {
	ClearCache()

	prompt1, err := Get("editor.json", "compile-report")
	require.NoError(t, err)

	prompt2, err := Get("editor.json", "compile-report")
	require.NoError(t, err)

	assert.Equal(t, prompt1, prompt2)
}
