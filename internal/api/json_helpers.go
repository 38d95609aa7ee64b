package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func bodyDecoder(r *http.Request) (*json.Decoder, error) {
	if r.Body == nil {
		return nil, errors.New("request body is required")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	return decoder, nil
}

// decodeJSON decodes structured records (keys, trace events) strictly:
// unknown fields are rejected.
func decodeJSON(r *http.Request, dest interface{}) error {
	decoder, err := bodyDecoder(r)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// decodeObject decodes schemaless elements, which carry whatever fields
// their producers invented.
func decodeObject(r *http.Request, dest interface{}) error {
	decoder, err := bodyDecoder(r)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	return decoder.Decode(dest)
}
