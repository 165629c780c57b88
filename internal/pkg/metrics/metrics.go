package metrics

import "time"

// Recorder receives engine events. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordPayment(result string)
	RecordHeal(result string)
	RecordAccessCommand(op, result string, duration time.Duration)
	RecordSweep(result string, expired, failed int, duration time.Duration)
	RecordNotification(kind, result string)
	RecordQueueMessage(result string)
}

// Result labels shared by callers.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultInvalid = "invalid"
	ResultRetry   = "retry"
	ResultSkipped = "skipped"
)

// NoopRecorder discards everything. Used when metrics are disabled and in tests.
type NoopRecorder struct{}

func (NoopRecorder) RecordPayment(string)                              {}
func (NoopRecorder) RecordHeal(string)                                 {}
func (NoopRecorder) RecordAccessCommand(string, string, time.Duration) {}
func (NoopRecorder) RecordSweep(string, int, int, time.Duration)       {}
func (NoopRecorder) RecordNotification(string, string)                 {}
func (NoopRecorder) RecordQueueMessage(string)                         {}
