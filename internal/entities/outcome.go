package entities

import (
	"errors"
	"fmt"
)

// Outcome is the result of reconciling one normalized record against the store
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeUpdated
	OutcomeDuplicate
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "error"
	}
}

// StopReason explains why a collector run ended
type StopReason string

const (
	StopNotFound       StopReason = "not_found"
	StopEmptyPage      StopReason = "empty_page"
	StopDuplicateStorm StopReason = "duplicate_storm"
	StopMaxPages       StopReason = "max_pages"
	StopTransportError StopReason = "transport_error"
	StopStorageError   StopReason = "storage_error"
	StopCanceled       StopReason = "canceled"
)

var (
	// ErrNoMorePages is returned by the export client when the source answers
	// 404 for a page index. It is a normal end-of-data signal.
	ErrNoMorePages = errors.New("no more pages")

	// ErrEmptyPage is returned when a page holds no data rows
	ErrEmptyPage = errors.New("empty page")

	// ErrRunInProgress is reported by the update gate when another run holds the lock.
	ErrRunInProgress = errors.New("run in progress")
)

// TransportError is a non-404 failure talking to the remote export.
// It is fatal to the current collector run.
type TransportError struct {
	Page       int
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("page %d: unexpected status %d: %s", e.Page, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("page %d: unexpected status %d", e.Page, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("page %d: %v", e.Page, e.Err)
	default:
		return fmt.Sprintf("page %d: %s", e.Page, e.Message)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// StorageError is a storage fault scoped to a single record. The batch it
// belongs to keeps going.
type StorageError struct {
	Op  string
	Key NaturalKey
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s/%s/%q: %v", e.Op, e.Key.SampleDate, e.Key.Site, e.Key.CatchArea, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransportError reports whether err carries a TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
