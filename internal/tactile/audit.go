package tactile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditLogger fans execution events out to callbacks, an optional JSON lines
// file and aggregate metrics. Its Log method is meant to be installed as an
// executor's audit callback.
type AuditLogger struct {
	mu sync.RWMutex

	callbacks  []func(AuditEvent)
	fileLogger *AuditFileLogger
	metrics    *ExecutionMetrics
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{
		metrics: NewExecutionMetrics(),
	}
}

// AddCallback adds a callback function for audit events.
func (l *AuditLogger) AddCallback(callback func(AuditEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, callback)
}

// EnableFileLogging appends every event as one JSON line to path.
func (l *AuditLogger) EnableFileLogging(path string) error {
	fl, err := NewAuditFileLogger(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileLogger != nil {
		_ = l.fileLogger.Close()
	}
	l.fileLogger = fl
	return nil
}

// Close closes the audit logger and any file handles.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLogger != nil {
		err := l.fileLogger.Close()
		l.fileLogger = nil
		return err
	}
	return nil
}

// Log logs an audit event.
func (l *AuditLogger) Log(event AuditEvent) {
	l.mu.RLock()
	callbacks := l.callbacks
	fileLogger := l.fileLogger
	metrics := l.metrics
	l.mu.RUnlock()

	metrics.RecordEvent(event)

	for _, cb := range callbacks {
		cb(event)
	}

	if fileLogger != nil {
		_ = fileLogger.Write(event)
	}
}

// Metrics returns the current execution metrics.
func (l *AuditLogger) Metrics() ExecutionMetricsSnapshot {
	return l.metrics.Snapshot()
}

// AuditFileLogger writes audit events as JSON lines.
type AuditFileLogger struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewAuditFileLogger opens (appending) the file at path.
func NewAuditFileLogger(path string) (*AuditFileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &AuditFileLogger{path: path, file: file}, nil
}

// auditRecord is the on-disk form of an event; output is left out to keep
// lines short since it already lives in the per-file logs.
type auditRecord struct {
	Type       AuditEventType    `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	RequestID  string            `json:"request_id,omitempty"`
	Command    string            `json:"command"`
	Tags       map[string]string `json:"tags,omitempty"`
	ExitCode   *int              `json:"exit_code,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	KillReason string            `json:"kill_reason,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Write appends one event.
func (l *AuditFileLogger) Write(event AuditEvent) error {
	rec := auditRecord{
		Type:      event.Type,
		Timestamp: event.Timestamp,
		RequestID: event.Command.RequestID,
		Command:   event.Command.CommandString(),
		Tags:      event.Command.Tags,
	}
	if r := event.Result; r != nil {
		code := r.ExitCode
		rec.ExitCode = &code
		rec.DurationMs = r.Duration.Milliseconds()
		rec.KillReason = r.KillReason
		rec.Error = r.Error
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("audit file %s is closed", l.path)
	}
	_, err = l.file.Write(append(data, '\n'))
	return err
}

// Close closes the underlying file.
func (l *AuditFileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ExecutionMetrics tracks aggregate execution statistics.
type ExecutionMetrics struct {
	mu sync.RWMutex

	totalExecutions      int64
	successfulExecutions int64
	nonZeroExits         int64
	failedExecutions     int64
	killedExecutions     int64
	totalDurationMs      int64
	totalCPUTimeMs       int64

	executionsByBinary map[string]int64
	lastEventTime      time.Time
}

// NewExecutionMetrics creates a new metrics tracker.
func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{
		executionsByBinary: make(map[string]int64),
	}
}

// RecordEvent updates metrics based on an audit event.
func (m *ExecutionMetrics) RecordEvent(event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastEventTime = event.Timestamp

	switch event.Type {
	case AuditEventStart:
		m.totalExecutions++
		m.executionsByBinary[filepath.Base(event.Command.Binary)]++

	case AuditEventComplete:
		if event.Result != nil {
			if event.Result.ExitCode == 0 {
				m.successfulExecutions++
			} else {
				m.nonZeroExits++
			}
			m.totalDurationMs += event.Result.Duration.Milliseconds()
			if event.Result.ResourceUsage != nil {
				m.totalCPUTimeMs += event.Result.ResourceUsage.TotalCPUTimeMs()
			}
		}

	case AuditEventKilled:
		m.killedExecutions++
		if event.Result != nil {
			m.totalDurationMs += event.Result.Duration.Milliseconds()
		}

	case AuditEventError:
		m.failedExecutions++
	}
}

// ExecutionMetricsSnapshot is a point-in-time snapshot of metrics.
type ExecutionMetricsSnapshot struct {
	TotalExecutions      int64            `json:"total_executions"`
	SuccessfulExecutions int64            `json:"successful_executions"`
	NonZeroExits         int64            `json:"non_zero_exits"`
	FailedExecutions     int64            `json:"failed_executions"`
	KilledExecutions     int64            `json:"killed_executions"`
	TotalDurationMs      int64            `json:"total_duration_ms"`
	TotalCPUTimeMs       int64            `json:"total_cpu_time_ms"`
	ExecutionsByBinary   map[string]int64 `json:"executions_by_binary"`
	LastEventTime        time.Time        `json:"last_event_time"`
	SuccessRate          float64          `json:"success_rate"`
	AvgDurationMs        float64          `json:"avg_duration_ms"`
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *ExecutionMetrics) Snapshot() ExecutionMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byBinary := make(map[string]int64, len(m.executionsByBinary))
	for k, v := range m.executionsByBinary {
		byBinary[k] = v
	}

	successRate := float64(0)
	avgDuration := float64(0)
	completed := m.successfulExecutions + m.nonZeroExits + m.killedExecutions
	if completed > 0 {
		successRate = float64(m.successfulExecutions) / float64(completed)
		avgDuration = float64(m.totalDurationMs) / float64(completed)
	}

	return ExecutionMetricsSnapshot{
		TotalExecutions:      m.totalExecutions,
		SuccessfulExecutions: m.successfulExecutions,
		NonZeroExits:         m.nonZeroExits,
		FailedExecutions:     m.failedExecutions,
		KilledExecutions:     m.killedExecutions,
		TotalDurationMs:      m.totalDurationMs,
		TotalCPUTimeMs:       m.totalCPUTimeMs,
		ExecutionsByBinary:   byBinary,
		LastEventTime:        m.lastEventTime,
		SuccessRate:          successRate,
		AvgDurationMs:        avgDuration,
	}
}
