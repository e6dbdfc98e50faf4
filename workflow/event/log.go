package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// redactedKeys lists payload keys whose values never reach the log.
// Matching is by substring on the lowercased key.
var redactedKeys = []string{
	"api_key", "apikey", "authorization", "password", "secret", "token_value", "credential",
}

// AuditLogger is a Subscriber that writes one log line per event.
//
// Supports two output modes:
//   - Text mode (default): human-readable key=value lines
//   - JSON mode: one JSON object per line (JSONL)
//
// Example text output:
//
//	[node_started] runID=run-001 nodeID=model-1
//	[usage_recorded] runID=run-001 nodeID=model-1 payload={"input_tokens":12,"output_tokens":40}
//
// Payload values under secret-looking keys are replaced with "[REDACTED]"
// before writing, so provider keys or credentials that leak into node
// config never reach the audit trail.
type AuditLogger struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewAuditLogger creates an AuditLogger. A nil writer defaults to stdout.
func NewAuditLogger(writer io.Writer, jsonMode bool) *AuditLogger {
	if writer == nil {
		writer = os.Stdout
	}
	return &AuditLogger{writer: writer, jsonMode: jsonMode}
}

// Notify implements Subscriber.
func (l *AuditLogger) Notify(e Event) {
	payload := Redact(e.Payload)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.writeJSON(e, payload)
		return
	}
	l.writeText(e, payload)
}

func (l *AuditLogger) writeJSON(e Event, payload map[string]any) {
	data, err := json.Marshal(struct {
		ID        string         `json:"id"`
		RunID     string         `json:"runID"`
		Kind      string         `json:"kind"`
		Timestamp string         `json:"timestamp"`
		NodeID    string         `json:"nodeID,omitempty"`
		Payload   map[string]any `json:"payload,omitempty"`
	}{
		ID:        e.ID,
		RunID:     e.RunID,
		Kind:      string(e.Kind),
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		NodeID:    e.NodeID,
		Payload:   payload,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *AuditLogger) writeText(e Event, payload map[string]any) {
	fmt.Fprintf(l.writer, "[%s] runID=%s", e.Kind, e.RunID)
	if e.NodeID != "" {
		fmt.Fprintf(l.writer, " nodeID=%s", e.NodeID)
	}
	if len(payload) > 0 {
		if data, err := json.Marshal(payload); err == nil {
			fmt.Fprintf(l.writer, " payload=%s", data)
		} else {
			fmt.Fprintf(l.writer, " payload=%v", payload)
		}
	}
	fmt.Fprint(l.writer, "\n")
}

// Redact returns a copy of the payload with secret-looking values
// replaced. Nested maps are walked; the input is never modified.
func Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if isSecretKey(key) {
			out[key] = "[REDACTED]"
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			out[key] = Redact(nested)
			continue
		}
		out[key] = value
	}
	return out
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, secret := range redactedKeys {
		if strings.Contains(lower, secret) {
			return true
		}
	}
	return false
}
