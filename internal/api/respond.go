// Package api contains the HTTP handlers for the Samovar REST surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeAndValidate decodes the request body into v and runs struct
// validation. Returns a client-facing error message on failure.
func decodeAndValidate(r *http.Request, v interface{}) (string, bool) {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return "invalid request body", false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return "invalid field: " + verrs[0].Field(), false
		}
		return "invalid request", false
	}
	return "", true
}
