// Package metrics defines the fire-and-forget sink the engine reports
// outcomes to, plus an in-memory implementation for tests and local
// inspection.
package metrics

import "sync"

// Calibration relates a self-reported confidence to the actual outcome
// of a leaf attempt.
type Calibration struct {
	Predicted float64 `json:"predicted"`
	Actual    bool    `json:"actual"`
	Task      string  `json:"task"`
}

// Sink receives engine outcome recordings. Implementations must not
// block; the engine never consumes a return value.
type Sink interface {
	RecordSafetyEvent(kind string, payload map[string]any)
	RecordProductivity(kind string, value float64, payload map[string]any)
	RecordCalibration(c Calibration)
}

// NoOpSink discards all recordings.
type NoOpSink struct{}

// RecordSafetyEvent implements Sink.
func (NoOpSink) RecordSafetyEvent(string, map[string]any) {}

// RecordProductivity implements Sink.
func (NoOpSink) RecordProductivity(string, float64, map[string]any) {}

// RecordCalibration implements Sink.
func (NoOpSink) RecordCalibration(Calibration) {}

// SafetyEvent is a stored safety recording.
type SafetyEvent struct {
	Kind    string
	Payload map[string]any
}

// ProductivityEvent is a stored productivity recording.
type ProductivityEvent struct {
	Kind    string
	Value   float64
	Payload map[string]any
}

// InMemorySink collects recordings in process-local slices. Safe for
// concurrent use; accessors return defensive copies.
type InMemorySink struct {
	mu           sync.Mutex
	safety       []SafetyEvent
	productivity []ProductivityEvent
	calibrations []Calibration
}

// NewInMemorySink constructs an empty sink.
func NewInMemorySink() *InMemorySink { return &InMemorySink{} }

// RecordSafetyEvent implements Sink.
func (s *InMemorySink) RecordSafetyEvent(kind string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safety = append(s.safety, SafetyEvent{Kind: kind, Payload: payload})
}

// RecordProductivity implements Sink.
func (s *InMemorySink) RecordProductivity(kind string, value float64, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productivity = append(s.productivity, ProductivityEvent{Kind: kind, Value: value, Payload: payload})
}

// RecordCalibration implements Sink.
func (s *InMemorySink) RecordCalibration(c Calibration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibrations = append(s.calibrations, c)
}

// SafetyEvents returns a copy of recorded safety events.
func (s *InMemorySink) SafetyEvents() []SafetyEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SafetyEvent, len(s.safety))
	copy(out, s.safety)
	return out
}

// ProductivityEvents returns a copy of recorded productivity events.
func (s *InMemorySink) ProductivityEvents() []ProductivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProductivityEvent, len(s.productivity))
	copy(out, s.productivity)
	return out
}

// Calibrations returns a copy of recorded calibrations.
func (s *InMemorySink) Calibrations() []Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Calibration, len(s.calibrations))
	copy(out, s.calibrations)
	return out
}
