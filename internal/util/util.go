package util

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/phuslu/log"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func JsonWrite(w http.ResponseWriter, v interface{}) {
	JsonWriteStatus(w, http.StatusOK, v)
}

func JsonWriteStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Error().Err(err).Msg("error writing json response")
	}
}

func JsonError(w http.ResponseWriter, status int, msg string) {
	JsonWriteStatus(w, status, ErrorResponse{Error: msg})
}

func GenUUID() string {
	x, err := uuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return x.String()
}
