package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"CascadeDetServer/cascade"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCascadeMetrics(t *testing.T) {
	m := CascadeMetrics{}
	okBefore := testutil.ToFloat64(tasksTotal.WithLabelValues("face", "ok"))
	geoBefore := testutil.ToFloat64(tasksTotal.WithLabelValues("face", "geometry"))

	m.TaskStarted()
	m.TaskStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(tasksInFlight))
	m.TaskDone("face", cascade.OutcomeOK, 10*time.Millisecond)
	m.TaskDone("face", cascade.OutcomeGeometry, time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(tasksInFlight))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(tasksTotal.WithLabelValues("face", "ok")))
	assert.Equal(t, geoBefore+1, testutil.ToFloat64(tasksTotal.WithLabelValues("face", "geometry")))

	m.PredictDone(time.Second, nil)
	m.PredictDone(time.Second, errors.New("boom"))
	assert.Equal(t, 2, testutil.CollectAndCount(predictSeconds))
}

func TestCheckProcessInfo(t *testing.T) {
	p, err := process.NewProcess(int32(1))
	if err != nil {
		t.Skip("no process 1 visible")
	}
	checkProcessInfo(p)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartMon(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartMon(ctx, port) }()

	GRPCTotal.Inc()
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	assert.Contains(t, body, "grpc_requests_total")
	assert.Contains(t, body, "memory_usage_Megabytes")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("StartMon did not stop")
	}
}
