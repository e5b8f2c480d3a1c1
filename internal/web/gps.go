package web

import (
	"errors"
	"io"
	"net/http"

	"afr.dev/console/internal/gps/fix"
	"afr.dev/console/internal/gps/nmea"
	"afr.dev/console/internal/util"
)

const max_body = 1 << 16

type okResponse struct {
	Ok  bool     `json:"ok"`
	Fix *fix.Fix `json:"fix,omitempty"`
}

type snapshotResponse struct {
	Fix *fix.Fix `json:"fix"`
}

type pingResponse struct {
	Message string `json:"message"`
}

func (api *Api) Ping(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, pingResponse{Message: api.config.PingMessage})
}

func (api *Api) PostFix(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, max_body))
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, fix.ErrMalformed.Error())
		return
	}
	if _, err := api.relay.IngestJSON(r.Context(), body); err != nil {
		util.JsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	util.JsonWrite(w, okResponse{Ok: true})
}

func (api *Api) GetFix(w http.ResponseWriter, r *http.Request) {
	res := snapshotResponse{}
	if f, ok := api.relay.Snapshot(); ok {
		res.Fix = &f
	}
	util.JsonWrite(w, res)
}

// PostNmea ingests the position carried by a block of NMEA sentences.
func (api *Api) PostNmea(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, max_body))
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req, err := nmea.Parse(string(body))
	if errors.Is(err, nmea.ErrNoPosition) {
		util.JsonError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	f, err := api.relay.IngestRequest(r.Context(), &req)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	util.JsonWrite(w, okResponse{Ok: true, Fix: &f})
}
