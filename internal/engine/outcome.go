package engine

import (
	"fmt"
	"net/http"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/query"
)

// Describe maps an error kind to the caller-facing message and HTTP status.
// Unknown kinds are server errors.
func Describe(qerr *query.Error) (string, int) {
	if qerr == nil {
		return "internal error", http.StatusInternalServerError
	}
	switch qerr.Kind {
	case query.KindIntrospection:
		return "schema unavailable, try again later", http.StatusServiceUnavailable
	case query.KindGeneration:
		return "could not process request", http.StatusBadGateway
	case query.KindParse:
		return "could not understand the generated query", http.StatusUnprocessableEntity
	case query.KindRejected:
		return qerr.Reason, http.StatusOK
	case query.KindSecurity:
		return fmt.Sprintf("request blocked by security policy: %s", qerr.Reason), http.StatusForbidden
	case query.KindPermission:
		return fmt.Sprintf("permission denied: %s", qerr.Reason), http.StatusForbidden
	case query.KindTimeout:
		return qerr.Reason, http.StatusGatewayTimeout
	case query.KindExecution:
		return qerr.Reason, http.StatusInternalServerError
	default:
		common.Logger().Error("engine: unmapped error kind", "kind", qerr.Kind.String(), "error", qerr)
		return "internal error", http.StatusInternalServerError
	}
}

func fail(resp Response, qerr *query.Error) Response {
	resp.Success = false
	resp.Data = nil
	resp.ErrorKind = qerr.Kind.String()
	resp.Error, resp.Status = Describe(qerr)
	return resp
}
