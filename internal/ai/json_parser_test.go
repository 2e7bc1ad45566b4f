package ai

import (
	"strings"
	"testing"
)

type testDecision struct {
	SingleEvent   bool    `json:"single_event"`
	CanonicalName string  `json:"canonical_name"`
	Confidence    float64 `json:"confidence"`
}

func TestParseDirectJSON(t *testing.T) {
	result := Parse[testDecision](`{"single_event": true, "canonical_name": "Flood Relief", "confidence": 0.9}`, ParseOptions{})
	if !result.Success {
		t.Fatalf("parse failed: %s", result.Error)
	}
	if !result.Data.SingleEvent || result.Data.CanonicalName != "Flood Relief" {
		t.Errorf("unexpected data: %+v", result.Data)
	}
}

func TestParseStripsCodeFences(t *testing.T) {
	inputs := []string{
		"```json\n{\"single_event\": true, \"canonical_name\": \"x\", \"confidence\": 0.8}\n```",
		"```\n{\"single_event\": true, \"canonical_name\": \"x\", \"confidence\": 0.8}\n```",
	}
	for _, input := range inputs {
		result := Parse[testDecision](input, ParseOptions{})
		if !result.Success {
			t.Errorf("fenced input failed to parse: %s", result.Error)
		}
	}
}

func TestParseExtractsEmbeddedObject(t *testing.T) {
	input := `Here is my decision:
{"single_event": false, "canonical_name": "", "confidence": 0.7}
Let me know if you need anything else.`
	result := Parse[testDecision](input, ParseOptions{})
	if !result.Success {
		t.Fatalf("embedded object failed to parse: %s", result.Error)
	}
	if result.Data.SingleEvent {
		t.Errorf("unexpected data: %+v", result.Data)
	}
}

func TestParseRemovesTrailingCommas(t *testing.T) {
	result := Parse[testDecision](`{"single_event": true, "canonical_name": "x", "confidence": 0.8,}`, ParseOptions{})
	if !result.Success {
		t.Fatalf("trailing comma failed to parse: %s", result.Error)
	}
}

func TestParseFailsOnGarbage(t *testing.T) {
	result := Parse[testDecision]("I cannot answer that question.", ParseOptions{Context: "test"})
	if result.Success {
		t.Fatal("expected failure on non-JSON input")
	}
	if result.Error == "" {
		t.Error("failure must carry an error message")
	}
	if result.OriginalText == "" {
		t.Error("failure must preserve the original text")
	}
}

func TestParseEmptyInput(t *testing.T) {
	result := Parse[testDecision]("", ParseOptions{})
	if result.Success {
		t.Fatal("expected failure on empty input")
	}
}

func TestParseRejectsOversizedInput(t *testing.T) {
	huge := `{"canonical_name": "` + strings.Repeat("a", defaultMaxInputSize) + `"}`
	result := Parse[testDecision](huge, ParseOptions{})
	if result.Success {
		t.Fatal("expected failure on oversized input")
	}
}
