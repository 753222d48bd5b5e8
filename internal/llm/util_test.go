package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlockCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "json fence",
			input: "```json\n[\"acme corp revenue growth 2026\"]\n```",
			want:  `["acme corp revenue growth 2026"]`,
		},
		{
			name:  "bare fence",
			input: "```\n{\"company\": \"Acme Corp\"}\n```",
			want:  `{"company": "Acme Corp"}`,
		},
		{
			name:  "fence with wrong language tag",
			input: "```javascript\n{\"queries\": []}\n```",
			want:  `{"queries": []}`,
		},
		{
			name:  "plain JSON untouched",
			input: `{"company": "Acme Corp"}`,
			want:  `{"company": "Acme Corp"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSONBlock(tt.input))
		})
	}
}

func TestCleanJSONBlockSurroundingChatter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "preamble before object",
			input: "Here is the structured summary:\n{\"company\": \"Acme Corp\"}",
			want:  `{"company": "Acme Corp"}`,
		},
		{
			name:  "conversational preamble",
			input: "I reviewed the enriched documents for this category. Here's the output:\n\n{\"company\": \"Acme\", \"confidence\": \"high\"}",
			want:  `{"company": "Acme", "confidence": "high"}`,
		},
		{
			name:  "preamble spanning sentences",
			input: "I analyzed the sources. Coverage of the financials is thin. Here is the result: {\"categories\": [\"financial\"]}",
			want:  `{"categories": ["financial"]}`,
		},
		{
			name:  "preamble before array",
			input: "The next search queries are:\n[\"acme corp funding rounds 2026\", \"acme corp layoffs 2026\"]",
			want:  `["acme corp funding rounds 2026", "acme corp layoffs 2026"]`,
		},
		{
			name:  "trailing chatter",
			input: "{\"status\": \"done\"}\n\nLet me know if you need a deeper pass.",
			want:  `{"status": "done"}`,
		},
		{
			name:  "nested objects",
			input: "Output:\n{\"brief\": {\"category\": \"financial\"}}",
			want:  `{"brief": {"category": "financial"}}`,
		},
		{
			name:  "escaped quotes inside strings",
			input: "Result: {\"quote\": \"the CEO said \\\"we doubled revenue\\\"\"}",
			want:  `{"quote": "the CEO said \"we doubled revenue\""}`,
		},
		{
			name:  "deep nesting",
			input: "Here: {\"a\": {\"b\": {\"c\": {\"d\": \"deep\"}}}}",
			want:  `{"a": {"b": {"c": {"d": "deep"}}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSONBlock(tt.input))
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple object",
			input: `{"company": "Acme Corp"}`,
			want:  `{"company": "Acme Corp"}`,
		},
		{
			name:  "nested objects",
			input: `{"counts": {"kept": 5}}`,
			want:  `{"counts": {"kept": 5}}`,
		},
		{
			name:  "object holding an array",
			input: `{"scores": [0.9, 0.6, 0.4]}`,
			want:  `{"scores": [0.9, 0.6, 0.4]}`,
		},
		{
			name:  "trailing text cut off",
			input: `{"company": "Acme"} and a closing remark`,
			want:  `{"company": "Acme"}`,
		},
		{
			name:  "braces inside a string do not close the object",
			input: `{"template": "Hello {name}!"}`,
			want:  `{"template": "Hello {name}!"}`,
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
		{
			name:  "no leading brace",
			input: "not json",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONObject(tt.input))
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple array",
			input: `["acme corp overview 2026", "acme corp news 2026"]`,
			want:  `["acme corp overview 2026", "acme corp news 2026"]`,
		},
		{
			name:  "nested arrays",
			input: `[[1, 2], [3, 4]]`,
			want:  `[[1, 2], [3, 4]]`,
		},
		{
			name:  "array of objects",
			input: `[{"url": "https://example.com/a"}, {"url": "https://example.com/b"}]`,
			want:  `[{"url": "https://example.com/a"}, {"url": "https://example.com/b"}]`,
		},
		{
			name:  "trailing text cut off",
			input: `[1, 2, 3] extra stuff`,
			want:  `[1, 2, 3]`,
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
		{
			name:  "no leading bracket",
			input: "not an array",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONArray(tt.input))
		})
	}
}
