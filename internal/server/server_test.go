package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfweave/internal/config"
	"github.com/piwi3910/vnfweave/internal/descriptor"
	"github.com/piwi3910/vnfweave/internal/driver"
	"github.com/piwi3910/vnfweave/internal/driver/mock"
	"github.com/piwi3910/vnfweave/internal/lcm"
	"github.com/piwi3910/vnfweave/internal/models"
	"github.com/piwi3910/vnfweave/internal/notify"
	"github.com/piwi3910/vnfweave/internal/store"
)

type testServer struct {
	server  *Server
	manager *lcm.Manager
	driver  *mock.Driver
	subs    notify.SubscriptionStore
}

func testDescriptor() *descriptor.Descriptor {
	return &descriptor.Descriptor{
		VnfdID:          "D1",
		Provider:        "acme",
		ProductName:     "edge-router",
		SoftwareVersion: "1.0",
		Version:         "1.0",
		Vdus: map[string]descriptor.Vdu{
			"VDU1": {ImageID: "img-vdu1", FlavourID: "m1.small"},
		},
		Flavours: map[string]descriptor.Flavour{
			"simple": {
				DefaultLevelID: "default",
				InstantiationLevels: map[string]descriptor.InstantiationLevel{
					"default": {VduLevels: map[string]int{"VDU1": 1}},
				},
			},
		},
		ScalingAspects: map[string]descriptor.ScalingAspect{
			"VDU1_scale": {VduID: "VDU1", MaxScaleLevel: 3, StepDelta: 1},
		},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.NewMemoryStore()
	provider := descriptor.NewStaticProvider()
	require.NoError(t, provider.Register(testDescriptor()))

	drv := mock.New()
	registry := driver.NewRegistry(zap.NewNop())
	require.NoError(t, registry.Register(drv, true))

	mgr := lcm.NewManager(st, provider, registry, nil, zap.NewNop(), lcm.Config{
		OperationTimeout: 5 * time.Second,
	})
	t.Cleanup(mgr.Stop)

	subs := notify.NewMemorySubscriptionStore()

	cfg := &config.Config{}
	cfg.Server.GinMode = "test"
	cfg.Observability.Metrics.Enabled = false

	srv := New(cfg, zap.NewNop(), mgr, subs, nil)

	return &testServer{server: srv, manager: mgr, driver: drv, subs: subs}
}

func (ts *testServer) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func (ts *testServer) createInstance(t *testing.T) *models.VnfInstance {
	t.Helper()

	w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances", models.CreateVnfRequest{
		VnfdID:          "D1",
		VnfInstanceName: "test-vnf",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var inst models.VnfInstance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inst))
	return &inst
}

func (ts *testServer) waitState(t *testing.T, occID string, state models.OperationState) {
	t.Helper()
	require.Eventually(t, func() bool {
		occ, err := ts.manager.GetOpOcc(context.Background(), occID)
		return err == nil && occ.OperationState == state
	}, 5*time.Second, 5*time.Millisecond)
}

func decodeOccurrence(t *testing.T, w *httptest.ResponseRecorder) *models.LcmOpOcc {
	t.Helper()
	var occ models.LcmOpOcc
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &occ))
	return &occ
}

func TestCreateInstance(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances", models.CreateVnfRequest{
		VnfdID:          "D1",
		VnfInstanceName: "my-vnf",
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var inst models.VnfInstance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inst))
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, "D1", inst.VnfdID)
	assert.Equal(t, models.InstantiationStateNotInstantiated, inst.InstantiationState)
	assert.Equal(t, "/vnflcm/v1/vnf_instances/"+inst.ID, w.Header().Get("Location"))
}

func TestCreateInstanceValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{
			name: "missing vnfd id",
			body: map[string]string{"vnfInstanceName": "x"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown vnfd",
			body: models.CreateVnfRequest{VnfdID: "nope"},
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
		})
	}
}

func TestGetInstance(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstance(t)

	w := ts.request(t, http.MethodGet, "/vnflcm/v1/vnf_instances/"+inst.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.VnfInstance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, inst.ID, got.ID)

	w = ts.request(t, http.MethodGet, "/vnflcm/v1/vnf_instances/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListInstances(t *testing.T) {
	ts := newTestServer(t)
	ts.createInstance(t)
	ts.createInstance(t)

	w := ts.request(t, http.MethodGet, "/vnflcm/v1/vnf_instances", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		VnfInstances []*models.VnfInstance `json:"vnfInstances"`
		Total        int                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.VnfInstances, 2)
}

func TestDeleteInstance(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstance(t)

	w := ts.request(t, http.MethodDelete, "/vnflcm/v1/vnf_instances/"+inst.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = ts.request(t, http.MethodGet, "/vnflcm/v1/vnf_instances/"+inst.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInstantiateAccepted(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstance(t)

	w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/instantiate",
		models.InstantiateVnfRequest{FlavourID: "simple"})

	require.Equal(t, http.StatusAccepted, w.Code)
	occ := decodeOccurrence(t, w)
	assert.Equal(t, models.OperationInstantiate, occ.Operation)
	assert.Equal(t, "/vnflcm/v1/vnf_lcm_op_occs/"+occ.ID, w.Header().Get("Location"))

	ts.waitState(t, occ.ID, models.OperationStateCompleted)

	w = ts.request(t, http.MethodGet, "/vnflcm/v1/vnf_instances/"+inst.ID, nil)
	var got models.VnfInstance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.InstantiationStateInstantiated, got.InstantiationState)
}

func TestInstantiateValidation(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstance(t)

	// Missing flavourId fails binding.
	w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/instantiate",
		map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// An unknown flavour passes intake but fails during planning.
	w = ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/instantiate",
		models.InstantiateVnfRequest{FlavourID: "bogus"})
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.waitState(t, decodeOccurrence(t, w).ID, models.OperationStateFailedTemp)
}

func TestOperationConflict(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstance(t)

	ts.driver.BlockApply = make(chan struct{})
	defer close(ts.driver.BlockApply)

	w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/instantiate",
		models.InstantiateVnfRequest{FlavourID: "simple"})
	require.Equal(t, http.StatusAccepted, w.Code)

	// Second operation while the first is in flight.
	w = ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/terminate",
		models.TerminateVnfRequest{TerminationType: "GRACEFUL"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestScaleAndTerminate(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstance(t)

	w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/instantiate",
		models.InstantiateVnfRequest{FlavourID: "simple"})
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.waitState(t, decodeOccurrence(t, w).ID, models.OperationStateCompleted)

	w = ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/scale",
		models.ScaleVnfRequest{Type: models.ScaleOut, AspectID: "VDU1_scale"})
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.waitState(t, decodeOccurrence(t, w).ID, models.OperationStateCompleted)

	w = ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/terminate",
		models.TerminateVnfRequest{TerminationType: "FORCEFUL"})
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.waitState(t, decodeOccurrence(t, w).ID, models.OperationStateCompleted)

	w = ts.request(t, http.MethodGet, "/vnflcm/v1/vnf_instances/"+inst.ID, nil)
	var got models.VnfInstance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.InstantiationStateNotInstantiated, got.InstantiationState)
}

func TestScaleNotInstantiated(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstance(t)

	w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/scale",
		models.ScaleVnfRequest{Type: models.ScaleOut, AspectID: "VDU1_scale"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOpOccRetryAndFail(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstance(t)

	ts.driver.FailNextApply = 1
	ts.driver.FailWith = driver.Recoverable(fmt.Errorf("quota exceeded"))

	w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/instantiate",
		models.InstantiateVnfRequest{FlavourID: "simple"})
	require.Equal(t, http.StatusAccepted, w.Code)
	occID := decodeOccurrence(t, w).ID
	ts.waitState(t, occID, models.OperationStateFailedTemp)

	// Retry with the fault cleared completes the operation.
	w = ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_lcm_op_occs/"+occID+"/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.waitState(t, occID, models.OperationStateCompleted)

	// Retrying a terminal occurrence is an invalid state transition.
	w = ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_lcm_op_occs/"+occID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOpOccFail(t *testing.T) {
	ts := newTestServer(t)
	inst := ts.createInstance(t)

	ts.driver.FailNextApply = 1
	ts.driver.FailWith = driver.Recoverable(fmt.Errorf("no valid host"))

	w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/instantiate",
		models.InstantiateVnfRequest{FlavourID: "simple"})
	require.Equal(t, http.StatusAccepted, w.Code)
	occID := decodeOccurrence(t, w).ID
	ts.waitState(t, occID, models.OperationStateFailedTemp)

	w = ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_lcm_op_occs/"+occID+"/fail", nil)
	require.Equal(t, http.StatusOK, w.Code)
	occ := decodeOccurrence(t, w)
	assert.Equal(t, models.OperationStateFailed, occ.OperationState)
}

func TestListOpOccs(t *testing.T) {
	ts := newTestServer(t)
	a := ts.createInstance(t)
	b := ts.createInstance(t)

	for _, inst := range []*models.VnfInstance{a, b} {
		w := ts.request(t, http.MethodPost, "/vnflcm/v1/vnf_instances/"+inst.ID+"/instantiate",
			models.InstantiateVnfRequest{FlavourID: "simple"})
		require.Equal(t, http.StatusAccepted, w.Code)
		ts.waitState(t, decodeOccurrence(t, w).ID, models.OperationStateCompleted)
	}

	w := ts.request(t, http.MethodGet, "/vnflcm/v1/vnf_lcm_op_occs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		VnfLcmOpOccs []*models.LcmOpOcc `json:"vnfLcmOpOccs"`
		Total        int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)

	w = ts.request(t, http.MethodGet, fmt.Sprintf("/vnflcm/v1/vnf_lcm_op_occs?vnfInstanceId=%s", a.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, a.ID, resp.VnfLcmOpOccs[0].VnfInstanceID)
}

func TestSubscriptionCRUD(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/vnflcm/v1/subscriptions", map[string]interface{}{
		"callbackUri": "https://example.com/lccn",
		"filter": map[string]interface{}{
			"operationTypes": []string{"INSTANTIATE"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var sub notify.Subscription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sub))
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "https://example.com/lccn", sub.CallbackURI)
	assert.Equal(t, "/vnflcm/v1/subscriptions/"+sub.ID, w.Header().Get("Location"))

	w = ts.request(t, http.MethodGet, "/vnflcm/v1/subscriptions/"+sub.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, http.MethodGet, "/vnflcm/v1/subscriptions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Subscriptions []*notify.Subscription `json:"subscriptions"`
		Total         int                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	w = ts.request(t, http.MethodDelete, "/vnflcm/v1/subscriptions/"+sub.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.request(t, http.MethodGet, "/vnflcm/v1/subscriptions/"+sub.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscriptionValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodPost, "/vnflcm/v1/subscriptions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/healthz", "/ready", "/readyz", "/live"} {
		w := ts.request(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, "path %s", path)
	}
}

func TestAPIInfo(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request(t, http.MethodGet, "/vnflcm", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Contains(t, info, "base_path")
	assert.Contains(t, info, "resources")
}
