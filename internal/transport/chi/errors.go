package chi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		validationHandler,
		rateLimitHandler,
		sentinelHandler(domain.ErrInvalidMetadata, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrRemoteBudgetExceeded, http.StatusPaymentRequired, CodeRemoteBudgetExceeded),
		sentinelHandler(domain.ErrInferenceTimeout, http.StatusGatewayTimeout, CodeInferenceTimeout),
		sentinelHandler(domain.ErrInferenceFailed, http.StatusBadGateway, CodeInferenceFailed),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProviderError),
		sentinelHandler(domain.ErrStoreWrite, http.StatusServiceUnavailable, CodeStoreUnavailable),
	}
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrValidation,
		domain.ErrInvalidMetadata,
		domain.ErrRateLimited,
		domain.ErrRemoteBudgetExceeded,
		domain.ErrInferenceTimeout,
		domain.ErrInferenceFailed,
		domain.ErrEmbeddingProviderError,
		domain.ErrStoreWrite,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// validationHandler reports the machine-readable rejection reason.
func validationHandler(w http.ResponseWriter, err error, msg string) bool {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	writeError(w, http.StatusBadRequest, CodeValidationFailed, ve.Reason)
	return true
}

// rateLimitHandler sets Retry-After in whole seconds.
func rateLimitHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrRateLimited) {
		return false
	}
	var rle *domain.RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rle.RetryAfter.Seconds()))))
	}
	writeError(w, http.StatusTooManyRequests, CodeRateLimited, msg)
	return true
}
