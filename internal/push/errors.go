package push

import (
	"fmt"
	"net/http"

	"github.com/stagepass/notify/internal/domain/model"
)

// DeliveryError is the typed failure produced at the push service boundary.
// Everything past the client works with the Class; the raw status code is
// kept for logs only.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
	Class      model.DeliveryClass
	Message    string
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("push delivery failed (%s, status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("push delivery failed (%s): %s", e.Class, e.Message)
}

// ClassifyStatus maps a push service HTTP status to the delivery taxonomy.
// 404 and 410 mean the endpoint is gone and the subscription should be
// retired; 413 and 429 are provider pushback, not endpoint problems.
func ClassifyStatus(statusCode int) model.DeliveryClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return model.DeliveryDelivered
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return model.DeliveryGone
	case statusCode == http.StatusRequestEntityTooLarge:
		return model.DeliveryPayloadTooLarge
	case statusCode == http.StatusTooManyRequests:
		return model.DeliveryRateLimited
	default:
		return model.DeliveryFailed
	}
}
