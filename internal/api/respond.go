package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentsh/yfass/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr translates any error to the HTTP status of §7 and a JSON
// error body; unmapped errors default to 500 without leaking internals.
func writeErr(w http.ResponseWriter, err error) {
	status := apierr.StatusFor(err)
	msg := "internal error"
	if e, ok := apierr.As(err); ok {
		msg = e.Message
		if e.Category != "" {
			writeJSON(w, status, map[string]string{"error": msg, "category": e.Category})
			return
		}
	}
	writeError(w, status, msg)
}

func decodeStrictJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Wrap(apierr.BadRequest, "invalid request body", err)
	}
	return nil
}
