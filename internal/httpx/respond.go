package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var ErrMalformedBody = errors.New("malformed request body")

type Status struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

// Envelope is the body of every JSON response.
type Envelope struct {
	Status Status `json:"status"`
	Data   any    `json:"data"`
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Write wraps data in the envelope, using the standard status text.
func Write(w http.ResponseWriter, status int, data any) {
	WriteText(w, status, http.StatusText(status), data)
}

func WriteText(w http.ResponseWriter, status int, text string, data any) {
	WriteJSON(w, status, Envelope{Status: Status{Code: status, Text: text}, Data: data})
}

func Error(w http.ResponseWriter, status int, text string) {
	WriteText(w, status, text, nil)
}

// DecodeJSON reads a single JSON document into dst. Oversized bodies keep
// their *http.MaxBytesError so callers can answer 413.
func DecodeJSON(r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return ErrMalformedBody
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return ErrMalformedBody
	}
	return nil
}
