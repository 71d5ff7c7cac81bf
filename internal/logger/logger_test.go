package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(line), &out); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return out
}

func TestNew_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "hub").Info("hello")

	entry := decodeLine(t, &buf)
	if entry["component"] != "hub" {
		t.Errorf("component = %v, want hub", entry["component"])
	}
	if entry["message"] != "hello" {
		t.Errorf("message = %v, want hello", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
}

func TestWithFieldsAndErr(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "api").
		WithFields(map[string]interface{}{"conn_id": "c1"}).
		Err(errors.New("boom")).
		Warn("delivery skipped")

	entry := decodeLine(t, &buf)
	if entry["conn_id"] != "c1" {
		t.Errorf("conn_id = %v", entry["conn_id"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v", entry["error"])
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestLogEvent_FailureCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "auth").LogEvent("warn", "login_failed", "ghost", "user not found")

	entry := decodeLine(t, &buf)
	if entry["event"] != "login_failed" || entry["username"] != "ghost" || entry["detail"] != "user not found" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["message"] != "login failed: user not found" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLogEvent_RoutineIsConcise(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "hub").LogEvent("info", "client_connected", "alice", "")

	entry := decodeLine(t, &buf)
	if _, ok := entry["event"]; ok {
		t.Errorf("routine event should not carry event field: %v", entry)
	}
	if !strings.Contains(entry["message"].(string), "alice") {
		t.Errorf("message %v should mention the user", entry["message"])
	}
}

func TestNop(t *testing.T) {
	// must not panic
	Nop().WithField("k", "v").Errorf("x %d", 1)
}
