package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"scantrack/internal/core"
	"scantrack/internal/infra/persistence/memory"
	"scantrack/pkg/domain"
)

func newTestHandler(t *testing.T) (*Handler, *core.Service) {
	t.Helper()
	svc := core.NewService(memory.NewStore())
	return NewHandler(svc, nil), svc
}

// seedBeamline registers a beamline with visit and scan templates and returns
// the template IDs keyed by kind.
func seedBeamline(t *testing.T, svc *core.Service, name string) map[domain.TemplateKind]string {
	t.Helper()
	ctx := context.Background()
	ids := map[domain.TemplateKind]string{}

	visit, err := svc.CreateTemplate(ctx, domain.KindVisit, "/data/{visit}")
	require.NoError(t, err)
	ids[domain.KindVisit] = visit.ID

	scan, err := svc.CreateTemplate(ctx, domain.KindScan, fmt.Sprintf("/data/%s/%s-{scan}.nxs", name, name))
	require.NoError(t, err)
	ids[domain.KindScan] = scan.ID

	_, err = svc.RegisterBeamline(ctx, name, domain.TemplateRefs{Visit: &visit.ID, Scan: &scan.ID})
	require.NoError(t, err)
	return ids
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestScanEndpointAllocatesAndResolves(t *testing.T) {
	h, svc := newTestHandler(t)
	seedBeamline(t, svc, "i22")

	w := doJSON(t, h, "POST", "/api/v1/scan/i22", map[string]any{"visit": "cm12345-3"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var res core.Resolution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, int64(1), res.ScanNumber)
	require.Equal(t, "/data/cm12345-3", res.VisitPath)
	require.Equal(t, "/data/i22/i22-1.nxs", res.ScanPath)

	w = doJSON(t, h, "POST", "/api/v1/scan/i22", map[string]any{"visit": "cm12345-3"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, int64(2), res.ScanNumber)
}

func TestScanEndpointRequiresVisit(t *testing.T) {
	h, svc := newTestHandler(t)
	seedBeamline(t, svc, "i22")

	w := doJSON(t, h, "POST", "/api/v1/scan/i22", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScanEndpointUnknownBeamline(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doJSON(t, h, "POST", "/api/v1/scan/b99", map[string]any{"visit": "cm1-1"})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "error")
}

func TestScanEndpointDetectorsWithoutTemplate(t *testing.T) {
	h, svc := newTestHandler(t)
	seedBeamline(t, svc, "i22")

	w := doJSON(t, h, "POST", "/api/v1/scan/i22", map[string]any{
		"visit":     "cm12345-3",
		"detectors": []string{"pilatus"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestVisitEndpointDoesNotAllocate(t *testing.T) {
	h, svc := newTestHandler(t)
	seedBeamline(t, svc, "i22")

	w := doJSON(t, h, "GET", "/api/v1/visit/i22?visit=cm12345-3", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Directory string `json:"directory"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "/data/cm12345-3", body.Directory)

	// The first real allocation must still be 1.
	res := doJSON(t, h, "POST", "/api/v1/scan/i22", map[string]any{"visit": "cm12345-3"})
	var out core.Resolution
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	require.Equal(t, int64(1), out.ScanNumber)
}

func TestVisitEndpointRequiresQuery(t *testing.T) {
	h, svc := newTestHandler(t)
	seedBeamline(t, svc, "i22")

	w := doJSON(t, h, "GET", "/api/v1/visit/i22", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBeamlineLifecycle(t *testing.T) {
	h, svc := newTestHandler(t)
	ctx := context.Background()

	visit, err := svc.CreateTemplate(ctx, domain.KindVisit, "/dls/{beamline}/data/{visit}")
	require.NoError(t, err)

	w := doJSON(t, h, "POST", "/api/v1/beamlines", map[string]any{
		"name":      "b21",
		"templates": map[string]any{"visit": visit.ID},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created domain.Beamline
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, "b21", created.Name)
	require.NotNil(t, created.VisitTemplateID)

	// Duplicate registration conflicts.
	w = doJSON(t, h, "POST", "/api/v1/beamlines", map[string]any{"name": "b21"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, "GET", "/api/v1/beamlines/b21", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, "GET", "/api/v1/beamlines", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "b21")
}

func TestRegisterBeamlineRejectsBadReference(t *testing.T) {
	h, _ := newTestHandler(t)

	bogus := "00000000-0000-0000-0000-000000000000"
	w := doJSON(t, h, "POST", "/api/v1/beamlines", map[string]any{
		"name":      "b21",
		"templates": map[string]any{"visit": bogus},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUpdateTemplatesEndpoint(t *testing.T) {
	h, svc := newTestHandler(t)
	seedBeamline(t, svc, "i22")

	other, err := svc.CreateTemplate(context.Background(), domain.KindVisit, "/archive/{proposal}/{visit}")
	require.NoError(t, err)

	w := doJSON(t, h, "PUT", "/api/v1/beamlines/i22/templates", map[string]any{"visit": other.ID})
	require.Equal(t, http.StatusOK, w.Code)

	var updated domain.Beamline
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.Equal(t, other.ID, *updated.VisitTemplateID)

	w = doJSON(t, h, "PUT", "/api/v1/beamlines/nope/templates", map[string]any{"visit": other.ID})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDirectoryEndpoint(t *testing.T) {
	h, svc := newTestHandler(t)
	seedBeamline(t, svc, "i22")

	w := doJSON(t, h, "PUT", "/api/v1/beamlines/i22/directory", map[string]any{
		"directory": "/data/i22",
		"extension": "nxs",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Re-pointing the beamline at a different directory conflicts.
	w = doJSON(t, h, "PUT", "/api/v1/beamlines/i22/directory", map[string]any{
		"directory": "/data/elsewhere",
		"extension": "nxs",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, "PUT", "/api/v1/beamlines/i22/directory", map[string]any{"directory": "/data/i22"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTemplateEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doJSON(t, h, "POST", "/api/v1/templates", map[string]any{
		"kind":    "visit",
		"content": "/data/{visit}",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Unknown placeholders are rejected at creation time.
	w = doJSON(t, h, "POST", "/api/v1/templates", map[string]any{
		"kind":    "visit",
		"content": "/data/{wavelength}",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, h, "GET", "/api/v1/templates?kind=visit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/data/{visit}")

	w = doJSON(t, h, "GET", "/api/v1/templates?kind=wavelength", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMalformedBody(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("POST", "/api/v1/beamlines", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doJSON(t, h, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ok")
}
