// File: internal/server/errors.go
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
	"github.com/xkilldash9x/kepco-scraper/internal/portal"
)

// Error catalog. Codes in the 5000 range are kept stable for existing
// clients of the crawling API.
var (
	errCreateClient   = schemas.ErrorResponse{Code: 5001, Message: "Could not create_client!", Status: http.StatusInternalServerError}
	errLogin          = schemas.ErrorResponse{Code: 5002, Message: "Could not login!", Status: http.StatusInternalServerError}
	errExtract        = schemas.ErrorResponse{Code: 5004, Message: "Could not extract billing data!", Status: http.StatusInternalServerError}
	errExtractTimeout = schemas.ErrorResponse{Code: 5004, Message: "Billing extraction timed out!", Status: http.StatusGatewayTimeout}
	errUnknownPortal  = schemas.ErrorResponse{Code: 5000, Message: "Portal is not configured!", Status: http.StatusInternalServerError}
	errBadRequest     = schemas.ErrorResponse{Code: 4000, Message: "Invalid request body!", Status: http.StatusBadRequest}
	errRateLimited    = schemas.ErrorResponse{Code: 4290, Message: "Too many requests!", Status: http.StatusTooManyRequests}
)

// responseFor maps a pipeline failure onto the catalog. The stage decides the
// code; a few kinds refine it. ctx is the request context: once its deadline
// has passed every failure is reported as a timeout.
func responseFor(ctx context.Context, err error) schemas.ErrorResponse {
	switch {
	case errors.Is(err, portal.ErrUnknownPortal):
		return errUnknownPortal
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errExtractTimeout
	}

	switch faults.KindOf(err) {
	case faults.DriverUnavailable, faults.SessionConnectFailed:
		return errCreateClient
	}

	switch portal.StageOf(err) {
	case portal.StageLogin:
		return errLogin
	case portal.StageNavigation, portal.StageExtraction:
		return errExtract
	default:
		return errCreateClient
	}
}
