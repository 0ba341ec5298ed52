// Package web holds the response helpers shared by the route packages.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/ahrav/sonolive/internal/api/errs"
)

// Respond writes data as a JSON body with status.
func Respond(w http.ResponseWriter, status int, data any) error {
	if data == nil {
		w.WriteHeader(status)
		return nil
	}

	body, err := json.Marshal(data)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// RespondError maps err onto an errs.Error and writes it with the matching
// status.
func RespondError(w http.ResponseWriter, err error) error {
	appErr := errs.FromDomain(err)
	return Respond(w, appErr.HTTPStatus(), appErr)
}
