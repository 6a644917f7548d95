package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/pgcdha001/pgcdha-sub002/logger"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

func TestCountersShareVector(t *testing.T) {
	m := NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{Namespace: "test"})

	hit := m.Counter("cache_reads_total", map[string]string{"store": "enquiries", "result": "hit"})
	miss := m.Counter("cache_reads_total", map[string]string{"store": "enquiries", "result": "miss"})

	hit.Inc()
	hit.Add(2)
	miss.Inc()

	assert.Equal(t, 3.0, hit.Get())
	assert.Equal(t, 1.0, miss.Get())
}

func TestGaugeAndHistogram(t *testing.T) {
	m := NewPrometheusMetrics(logger.NewNop(), nil)

	g := m.Gauge("engine_state", map[string]string{"engine": "enquiries"})
	g.Set(2)
	g.Inc()
	g.Sub(0.5)
	assert.Equal(t, 2.5, g.Get())

	h := m.Histogram("fetch_duration_seconds", []float64{0.1, 1}, map[string]string{"endpoint": "x"})
	h.Observe(0.2)
	h.ObserveDuration(time.Now())
	assert.Equal(t, uint64(2), h.GetCount())
	assert.GreaterOrEqual(t, h.GetSum(), 0.2)
}

func TestHandlerExposition(t *testing.T) {
	m := NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{Namespace: "pa"})
	m.Counter("fetch_total", map[string]string{"result": "ok"}).Inc()

	var req fasthttp.Request
	req.SetRequestURI("/metrics")
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	m.Handler()(&ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.True(t, strings.Contains(string(ctx.Response.Body()), `pa_fetch_total{result="ok"} 1`))
}

func TestLifecycle(t *testing.T) {
	m := NewPrometheusMetrics(logger.NewNop(), nil)
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)
	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)
}
