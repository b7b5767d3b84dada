package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestFor_TagsComponentAndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "warn", "json")

	log := For("session")
	log.Info().Msg("dropped")
	log.Warn().Str("feed", "text").Msg("fetch failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["component"] != "session" || rec["feed"] != "text" || rec["level"] != "warn" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestInit_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := InitWriter(&buf, "loud", "json")
	l.Debug().Msg("hidden")
	l.Info().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
