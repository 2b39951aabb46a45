package fg

import "time"

// Journal records the history of engine operations.
type Journal interface {
	Begin(targetID string, kind OperationKind, startedAt time.Time) (int64, error)
	Finish(id int64, status OperationStatus, errMsg string, finishedAt time.Time) error
	List(limit int) ([]*Operation, error)
}

// Recorder observes operation outcomes, typically for metrics.
type Recorder interface {
	ObserveOperation(kind OperationKind, err error, elapsed time.Duration)
}

// NopRecorder discards observations.
type NopRecorder struct{}

func (NopRecorder) ObserveOperation(OperationKind, error, time.Duration) {}
