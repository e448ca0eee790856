package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tennashi/snmp3"
)

func newTestEngine(t *testing.T) (*snmp3.Engine, *prometheus.Registry) {
	id, err := snmp3.NewFormattedEngineID(8072, snmp3.EngineIDFormatText, "snmp3d")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	e := snmp3.NewEngine(id, snmp3.NewMemoryUserTable(), snmp3.NotificationReceiverFunc(logNotification),
		snmp3.WithMetrics(snmp3.NewMetrics(reg)),
	)
	return e, reg
}

func TestRoutes(t *testing.T) {
	e, reg := newTestEngine(t)
	peer, err := snmp3.NewFormattedEngineID(8072, snmp3.EngineIDFormatText, "router")
	require.NoError(t, err)
	e.USM.TimeSync().Update("192.0.2.1", peer, 2, 600)

	srv := httptest.NewServer(setupRoutes(e, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/engines")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var engines []struct {
		Key         string
		EngineID    string
		EngineBoots uint32
		Fresh       bool
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&engines))
	require.Len(t, engines, 1)
	assert.Equal(t, "192.0.2.1", engines[0].Key)
	assert.Equal(t, peer.String(), engines[0].EngineID)
	assert.Equal(t, uint32(2), engines[0].EngineBoots)
	assert.True(t, engines[0].Fresh)

	resp, err = http.Get(srv.URL + "/engine")
	require.NoError(t, err)
	var local struct {
		EngineID string
		Format   string
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&local))
	resp.Body.Close()
	assert.Equal(t, e.ID.String(), local.EngineID)
	assert.Equal(t, "text", local.Format)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/health", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
