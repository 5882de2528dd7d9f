// Package audit records every chunk and manifest operation blobvault
// performs, for compliance and forensic review independent of the
// structured application log.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kenneth/blobvault/internal/config"
)

// EventType categorizes an audit event.
type EventType string

const (
	EventTypeEncryptFile   EventType = "encrypt_file"
	EventTypeDecryptFile   EventType = "decrypt_file"
	EventTypeChunkUpload   EventType = "chunk_upload"
	EventTypeChunkDownload EventType = "chunk_download"
	EventTypeManifestSave  EventType = "manifest_save"
	EventTypeManifestLoad  EventType = "manifest_load"
	EventTypeKeyRotation   EventType = "key_rotation"
)

// AuditEvent is a single recorded operation. ArchivedPath is always redacted
// (replaced with "[REDACTED]") when the logger is constructed in
// index-only mode, since a party who should only ever see the chunk-name
// index must never learn filenames through the audit trail either.
type AuditEvent struct {
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"event_type"`
	Operation    string                 `json:"operation"`
	ArchivedPath string                 `json:"archived_path,omitempty"`
	BlobName     string                 `json:"blob_name,omitempty"`
	Destination  string                 `json:"destination,omitempty"`
	KeyVersion   int                    `json:"key_version,omitempty"`
	BytesOut     int64                  `json:"bytes_out,omitempty"`
	Success      bool                   `json:"success"`
	Error        string                 `json:"error,omitempty"`
	Duration     time.Duration          `json:"duration_ms"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	Log(event *AuditEvent) error

	LogEncryptFile(archivedPath string, keyVersion int, success bool, err error, duration time.Duration)
	LogDecryptFile(archivedPath string, success bool, err error, duration time.Duration)
	LogChunkUpload(blobName, destination string, bytesOut int64, success bool, err error)
	LogChunkDownload(blobName, destination string, success bool, err error)
	LogManifestSave(archivedPathCount int, destination string, success bool, err error)
	LogKeyRotation(keyVersion int, success bool, err error)

	GetEvents() []*AuditEvent
	Close() error
}

// auditLogger implements Logger.
type auditLogger struct {
	mu        sync.Mutex
	events    []*AuditEvent
	maxEvents int
	writer    EventWriter
	indexOnly bool
}

// EventWriter writes a single audit event to its backing sink.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// NewLogger returns a Logger backed by writer, retaining at most maxEvents
// in its in-memory buffer. indexOnly redacts ArchivedPath on every logged
// event, for deployments where the audit trail itself must not leak
// filenames beyond what the content-secret-only holder already sees.
func NewLogger(maxEvents int, writer EventWriter, indexOnly bool) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}
	return &auditLogger{
		events:    make([]*AuditEvent, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
		indexOnly: indexOnly,
	}
}

// NewLoggerFromConfig constructs a Logger and its sink from cfg.
func NewLoggerFromConfig(cfg config.AuditConfig, indexOnly bool) (Logger, error) {
	var writer EventWriter
	switch cfg.Sink {
	case "http":
		writer = NewHTTPSink(cfg.HTTPURL, nil)
	case "file":
		writer = NewFileSink(cfg.FilePath)
	case "stdout", "":
		writer = &defaultWriter{}
	default:
		return nil, fmt.Errorf("audit: unknown sink type %q", cfg.Sink)
	}
	writer = NewBatchSink(writer, 0, 0, 3, 500*time.Millisecond)
	return NewLogger(1000, writer, indexOnly), nil
}

func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.indexOnly {
		event.ArchivedPath = "[REDACTED]"
	}

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
	return nil
}

func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (l *auditLogger) LogEncryptFile(archivedPath string, keyVersion int, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp:    time.Now(),
		EventType:    EventTypeEncryptFile,
		Operation:    "encrypt_file",
		ArchivedPath: archivedPath,
		KeyVersion:   keyVersion,
		Success:      success,
		Duration:     duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogDecryptFile(archivedPath string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp:    time.Now(),
		EventType:    EventTypeDecryptFile,
		Operation:    "decrypt_file",
		ArchivedPath: archivedPath,
		Success:      success,
		Duration:     duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogChunkUpload(blobName, destination string, bytesOut int64, success bool, err error) {
	event := &AuditEvent{
		Timestamp:   time.Now(),
		EventType:   EventTypeChunkUpload,
		Operation:   "chunk_upload",
		BlobName:    blobName,
		Destination: destination,
		BytesOut:    bytesOut,
		Success:     success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogChunkDownload(blobName, destination string, success bool, err error) {
	event := &AuditEvent{
		Timestamp:   time.Now(),
		EventType:   EventTypeChunkDownload,
		Operation:   "chunk_download",
		BlobName:    blobName,
		Destination: destination,
		Success:     success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogManifestSave(archivedPathCount int, destination string, success bool, err error) {
	event := &AuditEvent{
		Timestamp:   time.Now(),
		EventType:   EventTypeManifestSave,
		Operation:   "manifest_save",
		Destination: destination,
		Success:     success,
		Metadata:    map[string]interface{}{"file_count": archivedPathCount},
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogKeyRotation(keyVersion int, success bool, err error) {
	event := &AuditEvent{
		Timestamp:  time.Now(),
		EventType:  EventTypeKeyRotation,
		Operation:  "key_rotation",
		KeyVersion: keyVersion,
		Success:    success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// defaultWriter writes events to stdout as JSON.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
