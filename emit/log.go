package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes structured log output to a writer, either as
// human-readable key=value text or as one JSON object per line.
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
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitText(e Event) {
	fmt.Fprintf(l.writer, "[%s] processId=%s sortKey=%s messageId=%s", e.Msg, e.ProcessID, e.SortKey, e.MessageID)
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", b)
		}
	}
	fmt.Fprintln(l.writer)
}

func (l *LogEmitter) emitJSON(e Event) {
	rec := struct {
		ProcessID string                 `json:"processId"`
		SortKey   string                 `json:"sortKey,omitempty"`
		MessageID string                 `json:"messageId,omitempty"`
		Msg       string                 `json:"msg"`
		Meta      map[string]interface{} `json:"meta,omitempty"`
	}{e.ProcessID, e.SortKey, e.MessageID, e.Msg, e.Meta}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	l.writer.Write(append(b, '\n'))
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

func (l *LogEmitter) Flush(context.Context) error { return nil }
