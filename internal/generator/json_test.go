package generator

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantItems int
	}{
		{
			name:      "plain array",
			input:     `[{"stem": "a"}, {"stem": "b"}]`,
			wantItems: 2,
		},
		{
			name:      "array in markdown",
			input:     "```json\n[{\"stem\": \"a\"}, {\"stem\": \"b\"}]\n```",
			wantItems: 2,
		},
		{
			name:      "array in fence without language tag",
			input:     "```\n[{\"stem\": \"a\"}]\n```",
			wantItems: 1,
		},
		{
			name:      "array with text before",
			input:     `Here are the questions: [{"stem": "a"}, {"stem": "b"}]`,
			wantItems: 2,
		},
		{
			name:      "array with text after",
			input:     `[{"stem": "a"}] Let me know if you need more.`,
			wantItems: 1,
		},
		{
			name:      "truncated mid object",
			input:     `[{"stem": "a", "options": ["x", "y"]}, {"stem": "b", "opti`,
			wantItems: 1,
		},
		{
			name:      "truncated mid string",
			input:     `[{"stem": "a"}, {"stem": "unfinished thou`,
			wantItems: 1,
		},
		{
			name:      "truncated after comma",
			input:     `[{"stem": "a"}, {"stem": "b"},`,
			wantItems: 2,
		},
		{
			name:      "braces inside strings do not confuse tracking",
			input:     `[{"stem": "set notation {1, 2}"}, {"stem": "b"}]`,
			wantItems: 2,
		},
		{
			name:      "escaped quotes inside strings",
			input:     `[{"stem": "she said \"hi\""}, {"stem": "b"}]`,
			wantItems: 2,
		},
		{
			name:      "nested arrays stay inside elements",
			input:     `[{"options": ["a", "b", "c", "d"]}, {"options": ["e", "f", "g", "h"]}]`,
			wantItems: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractJSONArray(tt.input)

			var items []map[string]interface{}
			if err := json.Unmarshal([]byte(got), &items); err != nil {
				t.Fatalf("extractJSONArray() produced invalid JSON: %v\nGot: %s", err, got)
			}
			if len(items) != tt.wantItems {
				t.Errorf("Expected %d items, got %d\nGot: %s", tt.wantItems, len(items), got)
			}
		})
	}
}

func TestExtractJSONArray_NoArray(t *testing.T) {
	input := "I'm sorry, I can't produce questions for that topic."
	got := extractJSONArray(input)

	// Nothing to extract; the caller's unmarshal reports the failure.
	if strings.Contains(got, "[") {
		t.Errorf("Expected no array in output, got %q", got)
	}
}

func TestExtractJSONArray_CompleteArrayExcludesTrailer(t *testing.T) {
	got := extractJSONArray(`[{"stem": "a"}] trailing prose ]`)

	if got != `[{"stem": "a"}]` {
		t.Errorf("Expected array only, got %q", got)
	}
}

func TestSanitizeJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "unescaped newline",
			input: "[\"a\nb\"]",
			want:  "[\"a\\nb\"]",
		},
		{
			name:  "unescaped carriage return",
			input: "[\"a\rb\"]",
			want:  "[\"a\\nb\"]",
		},
		{
			name:  "crlf collapses to one escape",
			input: "[\"a\r\nb\"]",
			want:  "[\"a\\nb\"]",
		},
		{
			name:  "newline outside string untouched",
			input: "[\"a\",\n\"b\"]",
			want:  "[\"a\",\n\"b\"]",
		},
		{
			name:  "already escaped sequence untouched",
			input: `["a\nb"]`,
			want:  `["a\nb"]`,
		},
		{
			name:  "valid json unchanged",
			input: `["a", "b"]`,
			want:  `["a", "b"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeJSON(tt.input)
			if got != tt.want {
				t.Errorf("sanitizeJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCandidates(t *testing.T) {
	content := "```json\n" + `[
		{"stem": "What is 2+2?", "options": ["3", "4", "5", "6"], "correct_answer": "4", "rationale": "Basic addition."},
		{"stem": "What is 3+3?", "options": ["5", "6", "7", "8"], "correct_answer": "6", "rationale": "Basic addition."}
	]` + "\n```"

	candidates, err := parseCandidates(content)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Stem != "What is 2+2?" {
		t.Errorf("Expected stem 'What is 2+2?', got %q", candidates[0].Stem)
	}
	if len(candidates[0].Options) != 4 {
		t.Errorf("Expected 4 options, got %d", len(candidates[0].Options))
	}
	if candidates[1].CorrectAnswer != "6" {
		t.Errorf("Expected correct answer '6', got %q", candidates[1].CorrectAnswer)
	}
}

func TestParseCandidates_TruncatedOutput(t *testing.T) {
	// Max-token cutoff mid-element: the complete first item survives.
	content := `[{"stem": "What is 2+2?", "options": ["3", "4", "5", "6"], "correct_answer": "4", "rationale": "ok"}, {"stem": "What is`

	candidates, err := parseCandidates(content)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].CorrectAnswer != "4" {
		t.Errorf("Expected correct answer '4', got %q", candidates[0].CorrectAnswer)
	}
}

func TestParseCandidates_NotAnArray(t *testing.T) {
	_, err := parseCandidates(`{"stem": "a single object"}`)
	if err == nil {
		t.Error("Expected error for non-array output, got nil")
	}
}
