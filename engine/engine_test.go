package engine

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"CascadeDetServer/config"
	"CascadeDetServer/geometry"
	"CascadeDetServer/imaging"
	iface "CascadeDetServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost mimics an inference host serving resident models.
type fakeHost struct {
	mu       sync.Mutex
	loaded   map[string]string
	received map[string]int
}

func (h *fakeHost) arch(id string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.loaded[id]
	return a, ok
}

func (h *fakeHost) bytesReceived(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.received[id]
}

func newFakeHost(t *testing.T) (*fakeHost, *httptest.Server) {
	h := &fakeHost{loaded: map[string]string{}, received: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/models/load", func(w http.ResponseWriter, r *http.Request) {
		var req loadRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.ModelPath == "broken.ml" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(loadResponse{Message: "malformed artifact"})
			return
		}
		h.mu.Lock()
		id := "m-" + req.ModelPath
		h.loaded[id] = req.ArchPath
		h.mu.Unlock()
		_ = json.NewEncoder(w).Encode(loadResponse{Success: true, ID: id})
	})
	mux.HandleFunc("POST /api/models/{id}/predict", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		id := r.PathValue("id")
		w.Header().Set("Content-Type", "application/json")
		h.mu.Lock()
		_, ok := h.loaded[id]
		h.received[id] = len(body)
		h.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(predictResponse{Message: "unknown model"})
			return
		}
		_ = json.NewEncoder(w).Encode(predictResponse{Success: true, Results: []iface.Region{
			{Label: "person", Score: 0.9, Box: geometry.BoundingBox{XMin: 1, YMin: 2, XMax: 30, YMax: 40}},
		}})
	})
	mux.HandleFunc("DELETE /api/models/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		delete(h.loaded, r.PathValue("id"))
		h.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv
}

func TestRemoteModel_All(t *testing.T) {
	host, srv := newFakeHost(t)
	loader := NewRemoteLoader(srv.URL, 5*time.Second)
	frame := imaging.NewImageFrame(image.NewRGBA(image.Rect(0, 0, 16, 16)))

	var model iface.Model

	t.Run("Test Load", func(t *testing.T) {
		var err error
		model, err = loader.Load(context.Background(), "main.ml", "main.zip")
		require.NoError(t, err)
		assert.Equal(t, "m-main.ml", model.(*RemoteModel).ID)
		arch, _ := host.arch("m-main.ml")
		assert.Equal(t, "main.zip", arch)
	})

	t.Run("Test Load Failure", func(t *testing.T) {
		_, err := loader.Load(context.Background(), "broken.ml", "broken.zip")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed artifact")
	})

	t.Run("Test Predict", func(t *testing.T) {
		require.NotNil(t, model)
		regions, err := model.Predict(context.Background(), frame)
		require.NoError(t, err)
		require.Len(t, regions, 1)
		assert.Equal(t, "person", regions[0].Label)
		assert.Equal(t, geometry.BoundingBox{XMin: 1, YMin: 2, XMax: 30, YMax: 40}, regions[0].Box)
		assert.Positive(t, host.bytesReceived("m-main.ml"))
	})

	t.Run("Test Predict Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := model.Predict(ctx, frame)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Test Close", func(t *testing.T) {
		require.NoError(t, model.(*RemoteModel).Close())
		_, ok := host.arch("m-main.ml")
		assert.False(t, ok)
		_, err := model.Predict(context.Background(), frame)
		assert.ErrorContains(t, err, "unknown model")
	})
}

func TestNewLoader(t *testing.T) {
	l, err := NewLoader(config.Backend{Kind: BackendRemote, URL: "http://127.0.0.1:1", TimeoutSeconds: 1})
	require.NoError(t, err)
	assert.IsType(t, &RemoteLoader{}, l)

	_, err = NewLoader(config.Backend{Kind: BackendRemote, TimeoutSeconds: 1})
	assert.ErrorIs(t, err, config.ErrConfig)

	_, err = NewLoader(config.Backend{Kind: "ncnn"})
	assert.ErrorIs(t, err, config.ErrConfig)
}
