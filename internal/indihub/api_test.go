package indihub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starbridge/observatoryd/internal/errs"
)

func newTestAPI(t *testing.T) (*API, *Hub, string) {
	t.Helper()
	cat := NewCatalog(writeCatalogDir(t), nil)
	require.NoError(t, cat.Load())
	s, pipe := pipeSupervisor(t)
	hub := NewHub(cat, s, openTestStore(t), nil)
	return NewAPI(hub, nil, nil), hub, pipe
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAPIDeviceHubSurface(t *testing.T) {
	api, hub, pipe := newTestAPI(t)
	router := api.Router(false)

	w := doRequest(t, router, http.MethodGet, "/devicehub/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"True"`)

	// Restarting a kind needs a prior device selection.
	w = doRequest(t, router, http.MethodPost, "/devicehub/api/camera/restart", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Selection resolution failures surface before the server is touched.
	w = doRequest(t, router, http.MethodPost, "/devicehub/api/start", `{"camera":"No Such Driver"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// With a selection recorded, the per-kind restart cycles the driver.
	sim, err := hub.Catalog.ByName("CCD Simulator")
	require.NoError(t, err)
	hub.mu.Lock()
	hub.selection = map[string]Driver{"camera": sim}
	hub.mu.Unlock()
	w = doRequest(t, router, http.MethodPost, "/devicehub/api/camera/restart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, readPipe(t, pipe), "start "+sim.Binary)

	// Stop tears the server down; status flips to False.
	w = doRequest(t, router, http.MethodPost, "/devicehub/api/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(t, router, http.MethodGet, "/devicehub/api/status", "")
	assert.Contains(t, w.Body.String(), `"status":"False"`)
}

func TestHubStartDevicesValidation(t *testing.T) {
	_, hub, _ := newTestAPI(t)

	err := hub.StartDevices(context.Background(), map[string]string{})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	err = hub.StartDevices(context.Background(), map[string]string{"camera": "No Such Driver"})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	// Nothing was recorded as selected.
	err = hub.RestartDevice("camera")
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}
