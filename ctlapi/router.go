/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package ctlapi is the external-collaborator remote-control surface:
// spec.md's own scope explicitly excludes a secure remote control
// channel, so this package is a thin, unauthenticated status/reload
// endpoint standing in for it, routed the way the teacher's
// apirouters.go routes its (much larger, API-keyed) control plane.
package ctlapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// ZoneStatus is what the status endpoint reports for one zone.
type ZoneStatus struct {
	Origin string `json:"origin"`
	Kind   string `json:"kind"`
	Serial uint32 `json:"serial"`
	State  string `json:"state"`
}

// StatusSource is implemented by whatever owns the live zone set; kept
// as an interface so ctlapi never imports core directly and the control
// surface stays a true side channel, per spec.md's "external
// collaborator" framing.
type StatusSource interface {
	ZoneStatuses() []ZoneStatus
	ReloadZone(origin string) error
}

// NewRouter builds the gorilla/mux router for the control surface,
// mirroring the teacher's apirouters.go route-table style: one
// sub-router, JSON in and out, no middleware beyond what net/http gives
// for free (authentication is exactly the piece spec.md scopes out).
func NewRouter(src StatusSource) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/zones", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(src.ZoneStatuses())
	}).Methods(http.MethodGet)

	api.HandleFunc("/zones/{zone}/reload", func(w http.ResponseWriter, req *http.Request) {
		zone := mux.Vars(req)["zone"]
		if err := src.ReloadZone(zone); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)

	return r
}
