package rest

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/framewell/dbsvc/pkg/dberr"
	"github.com/framewell/dbsvc/pkg/httputil"
)

// statusOf maps an error kind to an HTTP status. Caller input errors map to
// 4xx; store failures to 5xx.
func statusOf(kind dberr.Kind) int {
	switch kind {
	case dberr.UnknownTable:
		return http.StatusNotFound
	case dberr.DuplicateKey:
		return http.StatusConflict
	case dberr.UnsupportedOperation:
		return http.StatusMethodNotAllowed
	case dberr.StoreUnavailable:
		return http.StatusServiceUnavailable
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeError renders an error payload with its stable kind. Errors without
// a kind are store or programming failures: their details are logged, not
// leaked.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := dberr.KindOf(err)
	status := statusOf(kind)
	if kind == "" {
		s.logger.Error("request failed", zap.Error(err))
		httputil.Error(w, status, "internal_error", "internal server error")
		return
	}
	httputil.Error(w, status, string(kind), err.Error())
}
