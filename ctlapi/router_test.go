/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package ctlapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	zones    []ZoneStatus
	reloadEr error
}

func (f *fakeSource) ZoneStatuses() []ZoneStatus { return f.zones }
func (f *fakeSource) ReloadZone(origin string) error {
	if f.reloadEr != nil {
		return f.reloadEr
	}
	return nil
}

func TestZonesEndpointListsStatuses(t *testing.T) {
	src := &fakeSource{zones: []ZoneStatus{{Origin: "example.com.", Kind: "primary", Serial: 1, State: "ok"}}}
	r := NewRouter(src)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/zones", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got []ZoneStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "example.com.", got[0].Origin)
}

func TestReloadEndpointSuccess(t *testing.T) {
	src := &fakeSource{}
	r := NewRouter(src)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/zones/example.com./reload", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReloadEndpointFailure(t *testing.T) {
	src := &fakeSource{reloadEr: errors.New("unknown zone")}
	r := NewRouter(src)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/zones/nope/reload", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
