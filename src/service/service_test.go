package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/mavnode/src/common"
	"github.com/mosaicnetworks/mavnode/src/node"
	"github.com/mosaicnetworks/mavnode/src/peers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ugorji/go/codec"
)

type fakeNode struct {
	stats map[string]string
	peers []peers.Peer
	conns []node.ConnectionStats
}

func (f *fakeNode) GetStats() map[string]string { return f.stats }
func (f *fakeNode) Peers() []peers.Peer { return f.peers }
func (f *fakeNode) Connections() []node.ConnectionStats { return f.conns }

func newFakeNode() *fakeNode {
	seen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeNode{
		stats: map[string]string{"state": "Running", "peers": "1"},
		peers: []peers.Peer{{
			Key:         peers.Key{SystemID: 1, ComponentID: 1},
			FirstSeen:   seen,
			LastSeen:    seen,
			Connection:  "c1",
			Connections: []string{"c1"},
		}},
		conns: []node.ConnectionStats{{ID: "c1", Version: "v2", FramesIn: 3}},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	jh := new(codec.JsonHandle)
	require.NoError(t, codec.NewDecoderBytes(rec.Body.Bytes(), jh).Decode(v))
}

func TestStats(t *testing.T) {
	s := NewService("127.0.0.1:0", newFakeNode(), nil, common.NewTestEntry(t, "service"))

	rec := get(t, s.Handler(), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var stats map[string]string
	decode(t, rec, &stats)
	assert.Equal(t, "Running", stats["state"])
	assert.Equal(t, "1", stats["peers"])
}

func TestPeersAndConnections(t *testing.T) {
	s := NewService("127.0.0.1:0", newFakeNode(), nil, common.NewTestEntry(t, "service"))

	rec := get(t, s.Handler(), "/peers")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]interface{}
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0]["connection"])
	assert.Contains(t, rec.Body.String(), `"system_id":1`)

	rec = get(t, s.Handler(), "/connections")
	require.Equal(t, http.StatusOK, rec.Code)
	var conns []map[string]interface{}
	decode(t, rec, &conns)
	require.Len(t, conns, 1)
	assert.Equal(t, "c1", conns[0]["id"])
	assert.EqualValues(t, 3, conns[0]["frames_in"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "mavnode_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(2)

	s := NewService("127.0.0.1:0", newFakeNode(), reg, common.NewTestEntry(t, "service"))
	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mavnode_test_total 2"))

	// Without a gatherer there is no /metrics route.
	s = NewService("127.0.0.1:0", newFakeNode(), nil, common.NewTestEntry(t, "service"))
	rec = get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseBeforeServe(t *testing.T) {
	s := NewService("127.0.0.1:0", newFakeNode(), nil, common.NewTestEntry(t, "service"))
	require.NoError(t, s.Close(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve kept running after Close")
	}
}
