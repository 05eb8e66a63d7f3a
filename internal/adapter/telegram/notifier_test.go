package telegram

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	getMeOK       = `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"nowcast","username":"nowcast_bot"}}`
	sendMessageOK = `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`
	sendMessageKO = `{"ok":false,"error_code":500,"description":"Internal Server Error"}`
)

type fakeAPI struct {
	sends    atomic.Int32
	failures int32
	lastText atomic.Value
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(getMeOK))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		f.lastText.Store(r.Form.Get("text"))
		if n := f.sends.Add(1); n <= f.failures {
			_, _ = w.Write([]byte(sendMessageKO))
			return
		}
		_, _ = w.Write([]byte(sendMessageOK))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestNotifier(t *testing.T, api *fakeAPI) *Notifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)

	n, err := newNotifier("test-token", srv.URL+"/bot%s/%s", 42, srv.Client(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	n.retryDelay = time.Millisecond
	return n
}

func sampleWarning() domain.WarningRecord {
	return domain.WarningRecord{
		ID:        "warn-1",
		CellID:    "cell-7",
		Message:   "Heavy rainfall predicted for storm cell 'cell-7' (CC type) in 30 minutes!",
		PlaceName: "Kuala Lumpur, Malaysia",
		IssuedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatch_SendsFormattedMessage(t *testing.T) {
	api := &fakeAPI{}
	n := newTestNotifier(t, api)

	require.NoError(t, n.Dispatch(context.Background(), sampleWarning()))
	assert.Equal(t, int32(1), api.sends.Load())

	text, _ := api.lastText.Load().(string)
	assert.Contains(t, text, "HEAVY RAINFALL WARNING")
	assert.Contains(t, text, "storm cell 'cell-7'")
	assert.Contains(t, text, "Location: Kuala Lumpur, Malaysia")
	assert.Contains(t, text, "Issued: 2024-06-01 12:00:00 UTC")
}

func TestDispatch_RetriesThenSucceeds(t *testing.T) {
	api := &fakeAPI{failures: 2}
	n := newTestNotifier(t, api)

	require.NoError(t, n.Dispatch(context.Background(), sampleWarning()))
	assert.Equal(t, int32(3), api.sends.Load())
}

func TestDispatch_FailsAfterRetries(t *testing.T) {
	api := &fakeAPI{failures: 10}
	n := newTestNotifier(t, api)

	err := n.Dispatch(context.Background(), sampleWarning())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), api.sends.Load())
}

func TestDispatch_ContextCancelled(t *testing.T) {
	api := &fakeAPI{failures: 10}
	n := newTestNotifier(t, api)
	n.retryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := n.Dispatch(ctx, sampleWarning())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewNotifier_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := newNotifier("bad", srv.URL+"/bot%s/%s", 42, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestFormatMessage_WithoutPlace(t *testing.T) {
	w := sampleWarning()
	w.PlaceName = ""
	assert.NotContains(t, formatMessage(w), "Location:")
}
