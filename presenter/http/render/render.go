package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, res interface{}) {
	buf, err := marshal(r, res)
	if err != nil {
		Error(w, r, fmt.Errorf("failed to marshal JSON result: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(buf); err != nil {
		logging.LoggerFromContext(r.Context()).WithError(err).Warn("failed to write response")
	}
}

func marshal(r *http.Request, res interface{}) ([]byte, error) {
	if pretty, _ := strconv.ParseBool(r.URL.Query().Get("pretty")); pretty {
		return json.MarshalIndent(res, "", "  ")
	}
	return json.Marshal(res)
}

// Error renders the error as a JSON message, missing entities are reported with 404.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, db.ErrNotFound) {
		JSON(w, r, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	logger := logging.LoggerFromContext(r.Context())
	logger.WithError(err).Error("request handling failed")
	JSON(w, r, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func BadRequest(w http.ResponseWriter, r *http.Request, err error) {
	JSON(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func NotFound(w http.ResponseWriter, r *http.Request, msg string) {
	JSON(w, r, http.StatusNotFound, errorResponse{Error: msg})
}
