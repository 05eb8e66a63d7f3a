package mapbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken         = "test-token"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(baseURL string, timeout time.Duration) (*Client, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	c := NewClient(testToken, timeout, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)
	c.baseURL = baseURL
	return c, metrics
}

func TestClient_PlaceName_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/-97.743100,30.267200.json"), "lon,lat order: %s", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, testToken, r.URL.Query().Get("access_token"))

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"features":[{"place_name":"Austin, Texas, United States","text":"Austin","relevance":0.98}]}`))
	}))
	defer srv.Close()

	c, metrics := testClient(srv.URL, 5*time.Second)
	name, err := c.PlaceName(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	assert.Equal(t, "Austin, Texas, United States", name)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeRequests.WithLabelValues("success")))
}

func TestClient_PlaceName_FallsBackToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"features":[{"text":"Kuala Lumpur"}]}`))
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, 5*time.Second)
	name, err := c.PlaceName(context.Background(), 3.139, 101.6869)
	require.NoError(t, err)
	assert.Equal(t, "Kuala Lumpur", name)
}

func TestClient_PlaceName_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()

	c, metrics := testClient(srv.URL, 5*time.Second)
	name, err := c.PlaceName(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeRequests.WithLabelValues("empty")))
}

func TestClient_PlaceName_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Not Authorized"}`))
	}))
	defer srv.Close()

	c, metrics := testClient(srv.URL, 5*time.Second)
	_, err := c.PlaceName(context.Background(), 30.2672, -97.7431)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeRequests.WithLabelValues("error")))
}

func TestClient_PlaceName_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL, 50*time.Millisecond)
	_, err := c.PlaceName(context.Background(), 30.2672, -97.7431)
	require.Error(t, err)
}

type countingLocator struct {
	calls int
	name  string
	err   error
}

func (m *countingLocator) PlaceName(_ context.Context, _, _ float64) (string, error) {
	m.calls++
	return m.name, m.err
}

func TestCachedLocator_HitOnNearbyCoordinate(t *testing.T) {
	inner := &countingLocator{name: "Austin, TX"}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedLocator(inner, 10, metrics)

	n1, err := cached.PlaceName(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	n2, err := cached.PlaceName(context.Background(), 30.2691, -97.7449)
	require.NoError(t, err)

	assert.Equal(t, "Austin, TX", n1)
	assert.Equal(t, n1, n2)
	assert.Equal(t, 1, inner.calls, "coordinates within the same rounding cell share an entry")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("miss")))
}

func TestCachedLocator_DifferentCellsMiss(t *testing.T) {
	inner := &countingLocator{name: "Place"}
	cached := NewCachedLocator(inner, 10, observability.NewMetricsForTesting())

	_, _ = cached.PlaceName(context.Background(), 30.26, -97.74)
	_, _ = cached.PlaceName(context.Background(), 32.77, -96.79)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedLocator_EmptyAndErrorsNotCached(t *testing.T) {
	inner := &countingLocator{}
	cached := NewCachedLocator(inner, 10, observability.NewMetricsForTesting())

	_, _ = cached.PlaceName(context.Background(), 1, 1)
	_, _ = cached.PlaceName(context.Background(), 1, 1)
	assert.Equal(t, 2, inner.calls)

	inner.err = errors.New("boom")
	_, err := cached.PlaceName(context.Background(), 2, 2)
	require.Error(t, err)
	assert.Zero(t, cached.cache.Len())
}

func TestCachedLocator_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingLocator{name: "Somewhere"}
	cached := NewCachedLocator(inner, 2, observability.NewMetricsForTesting())
	ctx := context.Background()

	_, _ = cached.PlaceName(ctx, 1, 1)
	_, _ = cached.PlaceName(ctx, 2, 2)
	_, _ = cached.PlaceName(ctx, 1, 1) // promotes 1,1
	_, _ = cached.PlaceName(ctx, 3, 3) // evicts 2,2
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 2, cached.cache.Len())

	_, _ = cached.PlaceName(ctx, 1, 1)
	assert.Equal(t, 3, inner.calls, "1,1 should still be cached")
	_, _ = cached.PlaceName(ctx, 2, 2)
	assert.Equal(t, 4, inner.calls, "2,2 should have been evicted")
}
