// Package metrics records latency, tokens and cost of every model call.
package metrics

import "time"

// Observation is one completed model call.
type Observation struct {
	Model            string
	Feature          string
	ErrorType        string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Duration         time.Duration
	Success          bool
}

// Recorder receives call observations and cache outcomes.
type Recorder interface {
	ObserveRequest(obs Observation)
	ObserveCache(feature string, hit bool)
}

// ThrottleRecorder is implemented by recorders that count rate limiter waits.
type ThrottleRecorder interface {
	IncThrottle(provider, reason string)
}

// NoopRecorder discards everything; used when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) ObserveRequest(Observation) {}

func (NoopRecorder) ObserveCache(string, bool) {}

// Tee fans observations out to several recorders.
func Tee(recorders ...Recorder) Recorder {
	return tee(recorders)
}

type tee []Recorder

func (t tee) ObserveRequest(obs Observation) {
	for _, r := range t {
		r.ObserveRequest(obs)
	}
}

func (t tee) ObserveCache(feature string, hit bool) {
	for _, r := range t {
		r.ObserveCache(feature, hit)
	}
}

func (t tee) IncThrottle(provider, reason string) {
	for _, r := range t {
		if tr, ok := r.(ThrottleRecorder); ok {
			tr.IncThrottle(provider, reason)
		}
	}
}
