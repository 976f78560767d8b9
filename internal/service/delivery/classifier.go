package delivery

import (
	"net/http"

	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/push/webpush"
)

// ProcessingResult is the worker's classification of one delivery
// attempt. Every attempt maps to exactly one of these.
type ProcessingResult int

const (
	// FailedProcessing: the attempt itself errored before any provider
	// response was obtained (network failure, bad payload).
	FailedProcessing ProcessingResult = iota
	// SuccessfullyDelivered: the provider accepted the push.
	SuccessfullyDelivered
	// LimitsExceeded: the provider rejected with a rate-limit-class code.
	LimitsExceeded
	// InvalidSubscription: the provider reported the subscription gone or
	// unknown. The contact is permanently unreachable on this channel.
	InvalidSubscription
	// RetryableFailure: any other provider rejection.
	RetryableFailure
)

func (r ProcessingResult) String() string {
	switch r {
	case FailedProcessing:
		return "failed_processing"
	case SuccessfullyDelivered:
		return "successfully_delivered"
	case LimitsExceeded:
		return "limits_exceeded"
	case InvalidSubscription:
		return "invalid_subscription"
	default:
		return "retryable_failure"
	}
}

// Classify maps a provider attempt onto a ProcessingResult. It is total:
// every (response, error) combination lands in exactly one variant.
func Classify(resp *webpush.Response, err error) ProcessingResult {
	if err != nil || resp == nil {
		return FailedProcessing
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return SuccessfullyDelivered
	case resp.StatusCode == http.StatusTooManyRequests:
		return LimitsExceeded
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return InvalidSubscription
	default:
		return RetryableFailure
	}
}

// Outcome maps a ProcessingResult onto the (event type, subtype) pair
// recorded in the delivery-event store. The mapping is exhaustive and
// mutually exclusive; downstream contact deactivation keys on the pair.
func (r ProcessingResult) Outcome() (model.EventType, model.EventSubtype) {
	switch r {
	case FailedProcessing:
		return model.EventProcessingFailed, model.SubtypeUnknownFailure
	case SuccessfullyDelivered:
		return model.EventDelivered, model.SubtypeNone
	case InvalidSubscription:
		return model.EventDeliveryFailed, model.SubtypeInvalidSubscription
	case LimitsExceeded:
		return model.EventDeliveryFailedButRetry, model.SubtypeLimitsExceeded
	default:
		return model.EventDeliveryFailedButRetry, model.SubtypeUnknownFailure
	}
}
