package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeRun         EventType = "run"
	EventTypeStep        EventType = "step"
	EventTypeAttempt     EventType = "attempt"
	EventTypeRemediation EventType = "remediation"
	EventTypeMatch       EventType = "match"
	EventTypeLLM         EventType = "llm"
	EventTypeHeartbeat   EventType = "heartbeat"
)

// Event represents a structured log entry.
type Event struct {
	Type       EventType `json:"type"`
	ChatID     string    `json:"chat_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
}

type LoggerOption func(*Logger)

// WithOutput sends events somewhere other than stdout.
func WithOutput(w io.Writer) LoggerOption {
	return func(l *Logger) { l.out = w }
}

// WithLLMLog changes where llm events are appended and the size at which
// that file is rotated.
func WithLLMLog(path string, maxSize int64) LoggerOption {
	return func(l *Logger) {
		l.llmLogPath = path
		if maxSize > 0 {
			l.maxSize = maxSize
		}
	}
}

// Logger handles structured logging.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log emits a structured JSON event, one per line.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = fmt.Appendf(nil, "{\"error\": \"failed to marshal event: %v\"}", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	termMu.Lock()
	fmt.Fprintln(l.out, string(data))
	termMu.Unlock()

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

// LogMatch records how a chat request was resolved to a workflow. outcome
// is one of accepted, confirm, rejected or error.
func (l *Logger) LogMatch(chatID, request, workflowID string, similarity float64, outcome string) {
	l.Log(Event{
		Type:       EventTypeMatch,
		ChatID:     chatID,
		WorkflowID: workflowID,
		Data: map[string]any{
			"request":    request,
			"similarity": similarity,
			"outcome":    outcome,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

// LogLLM records one model exchange. It satisfies vision.LLMLogger.
func (l *Logger) LogLLM(call, runID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:  EventTypeLLM,
		RunID: runID,
		Data: map[string]any{
			"call":       call,
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
