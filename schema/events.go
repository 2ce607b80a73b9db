package schema

import (
	"time"

	"github.com/google/uuid"
)

// Event type names used for subscription.
const (
	EventImageUploadRequested = "product.image_upload_requested"
	EventImagesUploaded       = "product.images_uploaded"
	EventImageUploadFailed    = "product.image_upload_failed"
)

// Event is anything the dispatcher can route.
type Event interface {
	EventType() string
	Meta() EventMeta
}

// EventMeta carries the identity and timestamp of an event.
type EventMeta struct {
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newMeta() EventMeta {
	return EventMeta{EventID: uuid.NewString(), OccurredAt: time.Now().UTC()}
}

func (m EventMeta) Meta() EventMeta { return m }

// ImageUploadRequested asks the pipeline to store the images of a freshly created product.
type ImageUploadRequested struct {
	EventMeta
	ProductID string  `json:"product_id"`
	Images    []Image `json:"images"`
}

func NewImageUploadRequested(productID string, images []Image) ImageUploadRequested {
	return ImageUploadRequested{EventMeta: newMeta(), ProductID: productID, Images: images}
}

func (ImageUploadRequested) EventType() string { return EventImageUploadRequested }

// Clone returns a copy that shares no memory with e.
func (e ImageUploadRequested) Clone() ImageUploadRequested {
	e.Images = CloneImages(e.Images)
	return e
}

// ImagesUploaded is emitted once every image of a product is stored.
type ImagesUploaded struct {
	EventMeta
	ProductID string   `json:"product_id"`
	ImageURLs []string `json:"image_urls"`
}

func NewImagesUploaded(productID string, urls []string) ImagesUploaded {
	return ImagesUploaded{EventMeta: newMeta(), ProductID: productID, ImageURLs: urls}
}

func (ImagesUploaded) EventType() string { return EventImagesUploaded }

// ImageUploadFailed is emitted when a product's upload is permanently abandoned.
type ImageUploadFailed struct {
	EventMeta
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

func NewImageUploadFailed(productID, reason string) ImageUploadFailed {
	return ImageUploadFailed{EventMeta: newMeta(), ProductID: productID, Reason: reason}
}

func (ImageUploadFailed) EventType() string { return EventImageUploadFailed }
