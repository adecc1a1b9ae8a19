package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"Stage", KeyStage, "Title.From.Idea", Stage("Title.From.Idea")},
		{"FromStage", KeyFromStage, "Script.From.Idea.Title", FromStage("Script.From.Idea.Title")},
		{"ToStage", KeyToStage, "Publishing", ToStage("Publishing")},
		{"StepID", KeyStepID, "abc-123", StepID("abc-123")},
		{"Worker", KeyWorker, "w1", Worker("w1")},
		{"Outcome", KeyOutcome, "advanced", Outcome("advanced")},
		{"IdeaRef", KeyIdeaRef, "i1", IdeaRef("i1")},
	}
	for _, c := range cases {
		if c.attr.Key != c.attrKey {
			t.Errorf("%s: expected key %q, got %q", c.name, c.attrKey, c.attr.Key)
		}
		if c.attr.Value.String() != c.attrVal {
			t.Errorf("%s: expected value %q, got %q", c.name, c.attrVal, c.attr.Value.String())
		}
	}
}

func TestIntHelpers(t *testing.T) {
	if a := StoryID(42); a.Key != KeyStoryID || a.Value.Int64() != 42 {
		t.Errorf("StoryID: got %v=%v", a.Key, a.Value)
	}
	if a := Version(3); a.Key != KeyVersion || a.Value.Int64() != 3 {
		t.Errorf("Version: got %v=%v", a.Key, a.Value)
	}
	if a := Score(85); a.Key != KeyScore || a.Value.Int64() != 85 {
		t.Errorf("Score: got %v=%v", a.Key, a.Value)
	}
}

func TestErrorHelper(t *testing.T) {
	if a := Error(nil); a.Value.String() != "" {
		t.Errorf("Error(nil): expected empty value, got %q", a.Value.String())
	}
	if a := Error(errors.New("boom")); a.Value.String() != "boom" {
		t.Errorf("Error: expected boom, got %q", a.Value.String())
	}
}
