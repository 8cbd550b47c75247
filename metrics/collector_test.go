package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ApocalypseJiaWei/go_dblib/internal/testdb"
	"github.com/ApocalypseJiaWei/go_dblib/model"
	"github.com/ApocalypseJiaWei/go_dblib/submit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	name  string
	stats model.PoolStats
}

func (f fakePool) Name() string           { return f.name }
func (f fakePool) Stats() model.PoolStats { return f.stats }

type fakeWorkers model.WorkerStats

func (f fakeWorkers) Stats() model.WorkerStats { return model.WorkerStats(f) }

func gauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestCollector_PoolAndWorkers(t *testing.T) {
	c := NewCollector("")
	c.AddPool(fakePool{name: "main", stats: model.PoolStats{
		OpenConnections: 3,
		InUse:           2,
		IdleConnections: 1,
		MaxOpen:         5,
		MaxIdle:         1,
		WaitCount:       4,
		WaitDuration:    1500 * time.Millisecond,
		Acquired:        10,
		Exhausted:       1,
	}})
	c.AddWorkers("main", fakeWorkers{Capacity: 4, Running: 2, Pending: 3})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	assert.Equal(t, 2.0, gauge(t, reg, "dblib_pool_in_use"))
	assert.Equal(t, 5.0, gauge(t, reg, "dblib_pool_max_open"))
	assert.Equal(t, 1.5, gauge(t, reg, "dblib_pool_wait_seconds_total"))
	assert.Equal(t, 1.0, gauge(t, reg, "dblib_pool_exhausted_total"))
	assert.Equal(t, 4.0, gauge(t, reg, "dblib_workers_capacity"))
	assert.Equal(t, 3.0, gauge(t, reg, "dblib_workers_pending"))
	assert.Equal(t, 13, testutil.CollectAndCount(c))
}

func TestCollector_LivePool(t *testing.T) {
	p := testdb.Open(t)
	s, err := submit.New(context.Background(), p, submit.Config{Workers: 2})
	require.NoError(t, err)
	defer s.Close(context.Background())

	c := NewCollector("game")
	c.AddPool(p)
	c.AddWorkers(p.Name(), s)

	conn, err := p.Get(context.Background())
	require.NoError(t, err)
	defer conn.Release()

	assert.Equal(t, 1, testutil.CollectAndCount(c, "game_pool_in_use"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "game_workers_capacity"))

	h, err := Handler(c)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `game_pool_in_use{pool="main"} 1`)
	assert.Contains(t, string(body), `game_workers_capacity{pool="main"} 2`)
}
