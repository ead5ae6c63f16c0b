package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
)

const doc = `{"message_id":"abc123","group_id":"g1","content":"hi","is_me":false}`

func newDispatcher(t *testing.T, command string, timeout time.Duration) (*Dispatcher, *prometheus.Registry) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("handler commands are written for sh")
	}

	reg := prometheus.NewRegistry()
	d, err := New(zap.NewNop(), Config{Command: command, Timeout: timeout}, NewMetrics(reg))
	require.NoError(t, err)

	return d, reg
}

func TestDeliverWritesDocumentAndClosesStdin(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "stdin.json")

	// cat only exits once stdin is closed
	d, _ := newDispatcher(t, "cat > "+out, 10*time.Second)

	res := d.Deliver(context.Background(), Delivery{MessageID: "abc123", Body: []byte(doc)})
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, OutcomeOK, res.Outcome())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, doc, string(got))
}

func TestDeliverExportsIdentifiers(t *testing.T) {
	d, _ := newDispatcher(t, `echo "$MARMOT_MESSAGE_ID $MARMOT_DELIVERY_ID"`, 0)

	res := d.Deliver(context.Background(), Delivery{MessageID: "abc123", Body: []byte(doc)})
	require.NoError(t, res.Err)
	assert.Equal(t, "abc123 "+res.DeliveryID.String()+"\n", res.Output)
}

func TestDeliverNonZeroExitIsReported(t *testing.T) {
	d, reg := newDispatcher(t, "echo boom >&2; exit 3", 0)

	res := d.Deliver(context.Background(), Delivery{MessageID: "abc123", Body: []byte(doc)})
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, OutcomeFailed, res.Outcome())
	assert.Equal(t, "boom\n", res.Output)

	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.deliveries.WithLabelValues(OutcomeFailed)))
	count, err := testutil.GatherAndCount(reg, "marmot_hook_delivery_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeliverTimeout(t *testing.T) {
	d, _ := newDispatcher(t, "sleep 10", 100*time.Millisecond)

	start := time.Now()
	res := d.Deliver(context.Background(), Delivery{MessageID: "abc123", Body: []byte(doc)})
	assert.Less(t, time.Since(start), 8*time.Second)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, OutcomeError, res.Outcome())
}

func TestDeliverIsSerialized(t *testing.T) {
	dir := t.TempDir()
	lock := filepath.Join(dir, "lock")

	// fails if another handler holds the lock file
	d, _ := newDispatcher(t, "set -C; : > "+lock+" || exit 9; sleep 0.05; rm "+lock, 0)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.Deliver(context.Background(), Delivery{MessageID: "m", Body: []byte(doc)})
		}()
	}
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, 0, res.ExitCode, res.Output)
	}
}

func TestNewRequiresCommand(t *testing.T) {
	_, err := New(zap.NewNop(), Config{}, nil)
	assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))
}

func TestNilMetricsAreIgnored(t *testing.T) {
	var m *Metrics
	m.IncDuplicate()
	m.ObserveDelivery(Result{})
}
