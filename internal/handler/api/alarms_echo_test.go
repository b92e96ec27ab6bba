package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"PriceAlarm/internal/domain/models"
	xlogger "PriceAlarm/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlarms struct {
	mu        sync.Mutex
	alarms    map[string]models.Alarm
	seq       int
	healthErr error
	listErr   error
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{alarms: make(map[string]models.Alarm)}
}

func (f *fakeAlarms) Set(_ context.Context, recipientID, ticker, direction, target string) (*models.Alarm, error) {
	dir, err := models.ParseDirection(direction)
	if err != nil {
		return nil, err
	}
	tgt, err := models.ParseTarget(target)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	a := models.Alarm{ID: fmt.Sprintf("id-%d", f.seq), RecipientID: recipientID, Ticker: models.NormalizeTicker(ticker), Direction: dir, Target: tgt}
	f.alarms[a.ID] = a
	return &a, nil
}

func (f *fakeAlarms) List(_ context.Context, recipientID string) ([]models.Alarm, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Alarm{}
	for _, a := range f.alarms {
		if recipientID == "" || a.RecipientID == recipientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlarms) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.alarms[id]; !ok {
		return models.ErrAlarmNotFound
	}
	delete(f.alarms, id)
	return nil
}

func (f *fakeAlarms) Clear(_ context.Context, recipientID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, a := range f.alarms {
		if a.RecipientID == recipientID {
			delete(f.alarms, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeAlarms) Health(context.Context) error { return f.healthErr }

type fakeCycles struct {
	busy  bool
	calls int
}

func (f *fakeCycles) RunOnce(context.Context) bool {
	f.calls++
	return !f.busy
}

func (f *fakeCycles) Running() bool { return f.busy }

func newTestEcho(alarms AlarmManager, cycles CycleRunner) *echo.Echo {
	e := echo.New()
	NewAlarmsEchoHandler(xlogger.Nop(), alarms, cycles).RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestAlarmsAPI_Root(t *testing.T) {
	e := newTestEcho(newFakeAlarms(), &fakeCycles{})
	rec := do(e, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bot is running via webhook!", rec.Body.String())
}

func TestAlarmsAPI_Health(t *testing.T) {
	alarms := newFakeAlarms()
	e := newTestEcho(alarms, &fakeCycles{})

	rec := do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	alarms.healthErr = errors.New("disk gone")
	rec = do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAlarmsAPI_CreateListDelete(t *testing.T) {
	alarms := newFakeAlarms()
	e := newTestEcho(alarms, &fakeCycles{})

	rec := do(e, http.MethodPost, "/api/alarms", `{"recipient_id":"42","ticker":"petr4","direction":"above","target":"30.5"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Alarm
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))
	assert.Equal(t, "PETR4", created.Ticker)
	assert.Equal(t, models.DirectionAbove, created.Direction)
	assert.True(t, created.Target.Equal(decimal.RequireFromString("30.5")))

	// direction defaults to ABOVE
	rec = do(e, http.MethodPost, "/api/alarms", `{"recipient_id":"7","ticker":"VALE3","target":"60"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/alarms?recipient_id=42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.Alarm `json:"rows"`
		Total int64          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &list))
	assert.EqualValues(t, 1, list.Total)

	rec = do(e, http.MethodDelete, "/api/alarms/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(e, http.MethodDelete, "/api/alarms/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodDelete, "/api/alarms?recipient_id=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, string(decode(t, rec).Data))
}

func TestAlarmsAPI_CreateValidation(t *testing.T) {
	e := newTestEcho(newFakeAlarms(), &fakeCycles{})

	tests := []struct {
		name string
		body string
	}{
		{"missing recipient", `{"ticker":"PETR4","target":"30"}`},
		{"bad ticker", `{"recipient_id":"1","ticker":"PE-TR4","target":"30"}`},
		{"market suffix", `{"recipient_id":"1","ticker":"PETR4.SA","target":"30"}`},
		{"long ticker", `{"recipient_id":"1","ticker":"ABCDEFGHIJKLM","target":"30"}`},
		{"bad direction", `{"recipient_id":"1","ticker":"PETR4","direction":"up","target":"30"}`},
		{"non numeric target", `{"recipient_id":"1","ticker":"PETR4","target":"thirty"}`},
		{"zero target", `{"recipient_id":"1","ticker":"PETR4","target":"0"}`},
		{"malformed json", `{"recipient_id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/alarms", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestAlarmsAPI_ClearRequiresRecipient(t *testing.T) {
	e := newTestEcho(newFakeAlarms(), &fakeCycles{})
	rec := do(e, http.MethodDelete, "/api/alarms", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlarmsAPI_StoreFailure(t *testing.T) {
	alarms := newFakeAlarms()
	alarms.listErr = errors.New("db locked")
	e := newTestEcho(alarms, &fakeCycles{})

	rec := do(e, http.MethodGet, "/api/alarms", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db locked")
}

func TestAlarmsAPI_TriggerCycle(t *testing.T) {
	cycles := &fakeCycles{}
	e := newTestEcho(newFakeAlarms(), cycles)

	rec := do(e, http.MethodPost, "/api/cycles", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	cycles.busy = true
	rec = do(e, http.MethodPost, "/api/cycles", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 2, cycles.calls)
}
