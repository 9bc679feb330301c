package apierror

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Body is the JSON shape of every error response.
type Body struct {
	Identifier string `json:"identifier"`
	Message    string `json:"message"`
}

// Write renders err as a JSON error response.
//
// *Error values are rendered with their identifier and message. Internal
// kinds and any other error are logged and rendered with the generic body so
// that wrapped causes never reach the client.
func Write(w http.ResponseWriter, logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiErr, ok := As(err)
	if !ok {
		logger.Error("Unhandled error", "error", err)
		writeBody(w, http.StatusInternalServerError, Body{Identifier: IdentifierGeneric, Message: genericMessage})
		return
	}

	if apiErr.Kind == KindInternal {
		logger.Error("Internal error", "identifier", apiErr.Identifier, "error", err)
	}

	if apiErr.Kind == KindUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}

	writeBody(w, apiErr.Status(), Body{Identifier: apiErr.Identifier, Message: apiErr.Message})
}

func writeBody(w http.ResponseWriter, status int, body Body) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
