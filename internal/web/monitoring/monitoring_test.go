package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afr.dev/console/internal/gps/relay"
)

func TestReport(t *testing.T) {
	r, err := relay.New(&relay.RelayConfig{Heartbeat: time.Hour})
	require.NoError(t, err)
	defer r.Close()
	m := NewMonApi(r, &MonitoringConfig{})

	rep := m.Report()
	assert.Equal(t, 0, rep.Count)
	assert.NotNil(t, rep.Subscribers)
	assert.Zero(t, rep.Ingest.Accepted)

	id1 := r.Subscribe(r.NewQueue("sse"))
	id2 := r.Subscribe(r.NewQueue("ws"))

	rec := httptest.NewRecorder()
	m.GetHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/gps/subscribers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Count       int `json:"count"`
		Subscribers []struct {
			Handle string `json:"handle"`
			Kind   string `json:"kind"`
			Pushed uint64 `json:"pushed"`
		} `json:"subscribers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 2, got.Count)
	assert.Equal(t, "sse", got.Subscribers[0].Kind)
	assert.Equal(t, "ws", got.Subscribers[1].Kind)
	assert.NotContains(t, rec.Body.String(), `"ID"`)

	for i, want := range []uint64{id1, id2} {
		h := got.Subscribers[i].Handle
		assert.GreaterOrEqual(t, len(h), 8)
		id, ok := m.Lookup(h)
		assert.True(t, ok)
		assert.Equal(t, want, id)
	}
	_, ok := m.Lookup("")
	assert.False(t, ok)
}

func TestSubscriberByHandle(t *testing.T) {
	r, err := relay.New(&relay.RelayConfig{Heartbeat: time.Hour})
	require.NoError(t, err)
	defer r.Close()
	m := NewMonApi(r, nil)
	router := chi.NewRouter()
	router.Method(http.MethodGet, "/subscribers/{handle}", m.SubscriberHandler())

	id := r.Subscribe(r.NewQueue("ws"))
	rep := m.Report()
	require.Len(t, rep.Subscribers, 1)
	handle := rep.Subscribers[0].Handle

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscribers/"+handle, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Handle string `json:"handle"`
		Kind   string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, handle, got.Handle)
	assert.Equal(t, "ws", got.Kind)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscribers/nothere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	r.Unsubscribe(id)
	_, ok := m.Subscriber(handle)
	assert.False(t, ok)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscribers/"+handle, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunWithoutAddress(t *testing.T) {
	r, err := relay.New(nil)
	require.NoError(t, err)
	defer r.Close()
	m := NewMonApi(r, nil)
	m.Run()
	assert.NoError(t, m.Close())
}
