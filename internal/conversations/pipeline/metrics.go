package pipeline

import "time"

// Recorder receives pipeline measurements. internal/metrics provides the Prometheus implementation.
type Recorder interface {
	PipelineRun(outcome string, duration time.Duration)
	AICall(outcome string, duration time.Duration)
	Fallback(reason string)
	Handoff(source string)
	SecurityIncident(incidentType string)
	Delivery(status string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) PipelineRun(string, time.Duration) {}
func (NopRecorder) AICall(string, time.Duration)      {}
func (NopRecorder) Fallback(string)                   {}
func (NopRecorder) Handoff(string)                    {}
func (NopRecorder) SecurityIncident(string)           {}
func (NopRecorder) Delivery(string)                   {}
