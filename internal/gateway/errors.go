package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/matheus3301/casechat/internal/apperr"
	"github.com/matheus3301/casechat/internal/protocol"
)

// errorEnvelope turns err into an outbound error event echoing ref.
func errorEnvelope(ref string, err error) protocol.Envelope {
	return protocol.MustEnvelope(protocol.TypeError, ref, protocol.ErrorPayload{
		Code:    string(apperr.KindOf(err)),
		Message: apperr.MessageOf(err),
	})
}

func httpStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindTransientStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the JSON body of a failed REST call.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, httpStatus(kind), ErrorResponse{
		Success: false,
		Error:   apperr.MessageOf(err),
		Code:    string(kind),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
