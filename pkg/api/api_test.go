package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/gripper/pkg/arbiter"
	"github.com/gwillem/gripper/pkg/control"
	"github.com/gwillem/gripper/pkg/gripper"
	"github.com/gwillem/gripper/pkg/input"
	"github.com/gwillem/gripper/pkg/servosim"
	"github.com/gwillem/gripper/pkg/sts"
	"github.com/gwillem/gripper/pkg/telemetry"
)

type fakeController struct {
	snap   telemetry.Snapshot
	ok     bool
	err    error
	status control.Status
}

func (f *fakeController) Telemetry(context.Context) (telemetry.Snapshot, bool, error) {
	return f.snap, f.ok, f.err
}

func (f *fakeController) Status() control.Status {
	return f.status
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus_RendersSnapshot(t *testing.T) {
	captured := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	ctrl := &fakeController{
		ok: true,
		snap: telemetry.Snapshot{
			Sample:     sts.Sample{Current: 5, Position: 2000, Voltage: 237, Load: -40, Temperature: 35},
			CapturedAt: captured,
			Seq:        3,
		},
	}
	srv := NewServer(ctrl, gripper.Positions{Open: 2000, Close: 3200}, zerolog.Nop())

	rec := get(t, srv.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, srv.Instance().String(), rec.Header().Get(InstanceHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 50.0, body["current"])
	assert.Equal(t, 2000.0, body["position"])
	assert.Equal(t, 23.7, body["voltage"])
	assert.Equal(t, -40.0, body["torque"])
	assert.Equal(t, 35.0, body["temperature"])
	assert.Equal(t, false, body["stale"])
	assert.Equal(t, "2026-10-18T09:30:00Z", body["captured_at"])
}

func TestStatus_StaleWhenRefreshFailed(t *testing.T) {
	ctrl := &fakeController{
		ok:   true,
		err:  sts.ErrPartialRead,
		snap: telemetry.Snapshot{Sample: sts.Sample{Position: 1234}},
	}
	srv := NewServer(ctrl, gripper.Positions{}, zerolog.Nop())

	rec := get(t, srv.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Stale)
	assert.Equal(t, 1234, body.Position)
}

func TestStatus_NoDataYet(t *testing.T) {
	ctrl := &fakeController{err: sts.ErrTimeout}
	srv := NewServer(ctrl, gripper.Positions{}, zerolog.Nop())

	rec := get(t, srv.Handler(), "/api/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "no telemetry yet", body.Error)
}

func TestHealth(t *testing.T) {
	ctrl := &fakeController{status: control.Status{
		State:         gripper.Closed,
		Primed:        true,
		WriteFailures: 2,
		Bus:           arbiter.Stats{Sessions: 10, Contended: 3},
	}}
	positions := gripper.Positions{Open: 2000, Close: 3200}
	srv := NewServer(ctrl, positions, zerolog.Nop())

	rec := get(t, srv.Handler(), "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, srv.Instance().String(), body.Instance)
	assert.Equal(t, positions, body.Positions)
	assert.True(t, body.Primed)
	assert.Equal(t, uint64(2), body.WriteFailures)
	assert.Equal(t, uint64(10), body.BusSessions)
	assert.Equal(t, uint64(3), body.BusContended)
	assert.Contains(t, rec.Body.String(), `"state":"closed"`)
}

func TestIndex(t *testing.T) {
	srv := NewServer(&fakeController{}, gripper.Positions{}, zerolog.Nop())

	rec := get(t, srv.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/api/status")

	assert.Equal(t, http.StatusNotFound, get(t, srv.Handler(), "/nope").Code)
}

func TestStatus_WithSimulatedServo(t *testing.T) {
	servo := servosim.New(servosim.Config{ID: 1})
	servo.Set(sts.RegPresentVoltage, 121)
	client := sts.NewClient(servo, sts.ClientConfig{Timeout: 5 * time.Millisecond})
	ctrl := control.NewController(control.Config{
		ServoID:       1,
		StatusTimeout: time.Second,
	}, arbiter.New(client), input.NewSequence(false), zerolog.Nop())
	h := NewServer(ctrl, gripper.Positions{}, zerolog.Nop()).Handler()

	rec := get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 12.1, body.Voltage)
	assert.False(t, body.Stale)

	// Servo goes quiet: last good reading is served as stale
	servo.FailReads(errors.New("cable unplugged"))
	rec = get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 12.1, body.Voltage)
	assert.True(t, body.Stale)
}
