package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// capture sends the global logger to a buffer for the rest of the test.
func capture(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	prev, prevLevel := Log, zerolog.GlobalLevel()
	t.Cleanup(func() {
		Log = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
	var buf bytes.Buffer
	SetupWriter(&buf, level, format)
	return &buf
}

func entries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := make(map[string]interface{})
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("entry %q is not JSON: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.level); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestJSONFields(t *testing.T) {
	buf := capture(t, "debug", "json")

	Log.Info("Case finished", "case", "basic.add", "error", errors.New("boom"),
		"duration", 2*time.Millisecond, "failures", 3, "dangling")

	es := entries(t, buf)
	if len(es) != 1 {
		t.Fatalf("got %d entries, want 1", len(es))
	}
	e := es[0]
	if e["level"] != "info" || e["message"] != "Case finished" {
		t.Errorf("unexpected level/message: %v", e)
	}
	if e["case"] != "basic.add" {
		t.Errorf("case = %v, want basic.add", e["case"])
	}
	if e["error"] != "boom" {
		t.Errorf("error = %v, want boom", e["error"])
	}
	if e["duration"] != float64(2) {
		t.Errorf("duration = %v, want 2 (ms)", e["duration"])
	}
	if e["failures"] != float64(3) {
		t.Errorf("failures = %v, want 3", e["failures"])
	}
	if _, ok := e["dangling"]; ok {
		t.Error("key without a value should be dropped")
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, "warn", "json")

	Log.Debug("hidden")
	Log.Info("hidden")
	Log.Warn("shown")
	Log.Error("shown")

	es := entries(t, buf)
	if len(es) != 2 {
		t.Fatalf("got %d entries, want 2: %s", len(es), buf.String())
	}
	if Log.Enabled("info") {
		t.Error("info should be disabled at warn")
	}
	if !Log.Enabled("error") {
		t.Error("error should be enabled at warn")
	}
}

func TestWithScopesFields(t *testing.T) {
	buf := capture(t, "info", "json")

	run := Log.With("run_id", "r1")
	run.With("case", "typeconvert.host.float16tofloat16").Warn("Case finished", "status", "fail")
	run.Info("Run finished")
	Log.Info("Unscoped")

	es := entries(t, buf)
	if len(es) != 3 {
		t.Fatalf("got %d entries, want 3", len(es))
	}
	if es[0]["run_id"] != "r1" || es[0]["case"] != "typeconvert.host.float16tofloat16" || es[0]["status"] != "fail" {
		t.Errorf("case entry missing scoped fields: %v", es[0])
	}
	if es[1]["run_id"] != "r1" {
		t.Errorf("run entry missing run_id: %v", es[1])
	}
	if _, ok := es[1]["case"]; ok {
		t.Error("case field leaked into the run logger")
	}
	if _, ok := es[2]["run_id"]; ok {
		t.Error("run_id leaked into the global logger")
	}
}

func TestConsoleFormat(t *testing.T) {
	buf := capture(t, "info", "console")

	Log.Info("Run starting", "cases", 7)

	out := buf.String()
	if !strings.Contains(out, "Run starting") || !strings.Contains(out, "cases") {
		t.Errorf("unexpected console output %q", out)
	}
	if json.Valid([]byte(strings.TrimSpace(out))) {
		t.Error("console output should not be JSON")
	}
}

func TestStringerField(t *testing.T) {
	buf := capture(t, "info", "json")

	Log.Info("Dispatch", "stage", stage("compute"))

	if es := entries(t, buf); es[0]["stage"] != "compute" {
		t.Errorf("stage = %v, want compute", es[0]["stage"])
	}
}

type stage string

func (s stage) String() string { return string(s) }
