package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/server/summary"
	"github.com/cyclopcam/detrain/server/train"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type fixedStatus train.Status

func (f fixedStatus) Status() train.Status {
	return train.Status(f)
}

func get(t *testing.T, h http.Handler, path string, result any) int {
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK && result != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), result))
	}
	return rec.Code
}

func TestStatusAPI(t *testing.T) {
	log := logs.NewTestingLog(t)
	store, err := summary.Open(log, t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.AddScalars(0, map[string]float64{"train/total_loss": 4}))
	require.NoError(t, store.AddScalars(10, map[string]float64{"train/total_loss": 3}))

	src := fixedStatus{Running: true, Step: 10, MaxSteps: 100, Losses: model.Losses{Total: 3}}
	h := NewServer(log, "", src, store).Handler()

	st := train.Status{}
	require.Equal(t, http.StatusOK, get(t, h, "/api/status", &st))
	require.True(t, st.Running)
	require.Equal(t, int64(10), st.Step)
	require.Equal(t, float32(3), st.Losses.Total)

	tags := []string{}
	require.Equal(t, http.StatusOK, get(t, h, "/api/tags", &tags))
	require.Equal(t, []string{"train/total_loss"}, tags)

	type scalar struct {
		Step  int64   `json:"step"`
		Value float64 `json:"value"`
	}
	values := []scalar{}
	require.Equal(t, http.StatusOK, get(t, h, "/api/scalars/train/total_loss", &values))
	require.Len(t, values, 2)
	require.Equal(t, 3.0, values[1].Value)

	require.Equal(t, http.StatusOK, get(t, h, "/api/scalars/train/total_loss?limit=1", &values))
	require.Len(t, values, 1)
	require.Equal(t, int64(10), values[0].Step)
}

func TestStatusRateLimit(t *testing.T) {
	h := NewServer(logs.NewTestingLog(t), "", fixedStatus{}, nil).Handler()
	limited := false
	for i := 0; i < 20; i++ {
		if get(t, h, "/api/status", nil) == http.StatusTooManyRequests {
			limited = true
		}
	}
	require.True(t, limited)
}

func TestShutdownBeforeListen(t *testing.T) {
	srv := NewServer(logs.NewTestingLog(t), "127.0.0.1:0", fixedStatus{}, nil)
	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, srv.ListenAndServe())
}

func TestShutdownWhileListening(t *testing.T) {
	srv := NewServer(logs.NewTestingLog(t), "127.0.0.1:0", fixedStatus{}, nil)
	done := make(chan error, 1)
	go func() {
		done <- srv.ListenAndServe()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after Shutdown")
	}
}
