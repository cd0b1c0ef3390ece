package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, either as key=value text lines
// or as JSONL, one event per line.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer defaults to os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		TaskID  string                 `json:"task_id"`
		RunID   string                 `json:"run_id"`
		EventID int64                  `json:"event_id"`
		StepID  string                 `json:"step_id,omitempty"`
		Kind    string                 `json:"kind"`
		Payload map[string]interface{} `json:"payload,omitempty"`
	}{
		TaskID:  event.TaskID,
		RunID:   event.RunID,
		EventID: event.EventID,
		StepID:  event.StepID,
		Kind:    event.Kind,
		Payload: event.Payload,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] task=%s run=%s event_id=%d", event.Kind, event.TaskID, event.RunID, event.EventID)
	if event.StepID != "" {
		_, _ = fmt.Fprintf(l.writer, " step=%s", event.StepID)
	}
	if len(event.Payload) > 0 {
		if payloadJSON, err := json.Marshal(event.Payload); err == nil {
			_, _ = fmt.Fprintf(l.writer, " payload=%s", payloadJSON)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously and buffers nothing
// itself. Wrap writer in a bufio.Writer and flush that directly if needed.
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}
