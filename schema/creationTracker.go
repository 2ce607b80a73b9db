package schema

import (
	"errors"
	"fmt"
	"time"
)

// CreationStatus represents the state of a product creation attempt.
type CreationStatus string

const (
	StatusRegistering        CreationStatus = "REGISTERING"
	StatusImageUploadPending CreationStatus = "IMAGE_UPLOAD_PENDING"
	StatusCompleted          CreationStatus = "COMPLETED"
	StatusFailed             CreationStatus = "FAILED"
)

// ErrInvalidTransition is returned when a tracker is asked to move along an edge
// that is not part of the creation state machine.
var ErrInvalidTransition = errors.New("invalid creation status transition")

var allowedTransitions = map[CreationStatus][]CreationStatus{
	StatusRegistering:        {StatusImageUploadPending, StatusCompleted},
	StatusImageUploadPending: {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s CreationStatus) CanTransitionTo(next CreationStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (s CreationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsProcessing reports whether the creation is still in flight.
func (s CreationStatus) IsProcessing() bool {
	return s == StatusRegistering || s == StatusImageUploadPending
}

// Progress maps a status to the percentage shown to polling clients.
func (s CreationStatus) Progress() int {
	switch s {
	case StatusRegistering:
		return 25
	case StatusImageUploadPending:
		return 75
	case StatusCompleted:
		return 100
	default:
		return 0
	}
}

// DisplayName is the human readable step name.
func (s CreationStatus) DisplayName() string {
	switch s {
	case StatusRegistering:
		return "Registering product"
	case StatusImageUploadPending:
		return "Uploading images"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	default:
		return string(s)
	}
}

// Valid reports whether s is one of the known statuses.
func (s CreationStatus) Valid() bool {
	switch s {
	case StatusRegistering, StatusImageUploadPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CreationTracker is the persisted record of one product creation attempt.
type CreationTracker struct {
	ID            int64          `json:"id,omitempty" bson:"id,omitempty" dynamodbav:"id,omitempty"`
	ProductID     string         `json:"product_id" bson:"product_id" dynamodbav:"product_id"`
	CorrelationID string         `json:"correlation_id" bson:"correlation_id" dynamodbav:"correlation_id"`
	Status        CreationStatus `json:"status" bson:"status" dynamodbav:"status"`
	FailureReason string         `json:"failure_reason,omitempty" bson:"failure_reason,omitempty" dynamodbav:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at" bson:"created_at" dynamodbav:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" bson:"updated_at" dynamodbav:"updated_at"`
}

// NewCreationTracker creates a REGISTERING tracker.
func NewCreationTracker(productID, correlationID string, now time.Time) CreationTracker {
	return CreationTracker{
		ProductID:     productID,
		CorrelationID: correlationID,
		Status:        StatusRegistering,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// WithStatus returns a copy of t moved to next, or ErrInvalidTransition.
func (t CreationTracker) WithStatus(next CreationStatus, now time.Time) (CreationTracker, error) {
	if !t.Status.CanTransitionTo(next) {
		return t, fmt.Errorf("%w: %s -> %s (product %s)", ErrInvalidTransition, t.Status, next, t.ProductID)
	}
	t.Status = next
	t.UpdatedAt = now
	return t, nil
}

// MarkCompleted moves the tracker to COMPLETED.
func (t CreationTracker) MarkCompleted(now time.Time) (CreationTracker, error) {
	return t.WithStatus(StatusCompleted, now)
}

// MarkFailed moves the tracker to FAILED and records the reason.
func (t CreationTracker) MarkFailed(reason string, now time.Time) (CreationTracker, error) {
	failed, err := t.WithStatus(StatusFailed, now)
	if err != nil {
		return t, err
	}
	failed.FailureReason = reason
	return failed, nil
}
