package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seandlg/protoframe/internal/core/network"
	"github.com/seandlg/protoframe/internal/protoframe"
)

func TestMetricsObserveConnectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	left, right, err := network.NewMemoryPipe("metrics", zerolog.Nop())
	require.NoError(t, err)
	defer left.Close()
	defer right.Close()

	p := protoframe.Protocol{Namespace: "m"}
	asker, err := protoframe.New(p, left, protoframe.WithLogger(zerolog.Nop()), protoframe.WithObserver(m))
	require.NoError(t, err)
	defer asker.Destroy()

	_, err = asker.Ask(context.Background(), "get", struct{}{}, 20*time.Millisecond)
	require.ErrorIs(t, err, protoframe.ErrTimeout)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.asks.WithLabelValues("m", "get", "timeout")))

	answerer, err := protoframe.New(p, right, protoframe.WithLogger(zerolog.Nop()), protoframe.WithObserver(m))
	require.NoError(t, err)
	defer answerer.Destroy()

	require.NoError(t, asker.Ping(context.Background(), time.Second))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.asks.WithLabelValues("system|m", "ping", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handled.WithLabelValues("system|m", "ask", "ping")))

	require.NoError(t, asker.Tell("set", struct{}{}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues("m", "tell", "set")))

	m.RecordHandlerFailure("m", "get")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerFailures.WithLabelValues("m", "get")))
}

func TestNewMetricsRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	h := Middleware(zerolog.Nop(), m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/api/cache/key/a", "/api/cache/key/b", "/missing"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/cache/key/:key", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/missing", "404")))
}
