package tracking

import (
	"time"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

// EstimatedProcessingTime is added to the creation time while a product is still processing.
const EstimatedProcessingTime = 5 * time.Minute

// CreationStatusView is what polling clients see.
type CreationStatusView struct {
	ProductID           string                `json:"product_id"`
	CorrelationID       string                `json:"correlation_id"`
	Status              schema.CreationStatus `json:"status"`
	CurrentStep         string                `json:"current_step"`
	Progress            int                   `json:"progress"`
	FailureReason       string                `json:"failure_reason,omitempty"`
	EstimatedCompletion time.Time             `json:"estimated_completion"`
}

func NewStatusView(tracker schema.CreationTracker) CreationStatusView {
	view := CreationStatusView{
		ProductID:           tracker.ProductID,
		CorrelationID:       tracker.CorrelationID,
		Status:              tracker.Status,
		CurrentStep:         tracker.Status.DisplayName(),
		Progress:            tracker.Status.Progress(),
		FailureReason:       tracker.FailureReason,
		EstimatedCompletion: tracker.UpdatedAt,
	}
	if tracker.Status.IsProcessing() {
		view.EstimatedCompletion = tracker.CreatedAt.Add(EstimatedProcessingTime)
	}
	return view
}
