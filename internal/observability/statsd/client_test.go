package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient pairs a client with a local UDP listener capturing its lines.
func newTestClient(t *testing.T) (*Client, func() string) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	client, err := NewClient(Config{
		Enabled: true,
		Address: pc.LocalAddr().String(),
		Prefix:  "nudged",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	read := func() string {
		buf := make([]byte, 512)
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second)))
		n, _, readErr := pc.ReadFrom(buf)
		require.NoError(t, readErr)
		return string(buf[:n])
	}
	return client, read
}

func TestClientEmitsCounts(t *testing.T) {
	client, read := newTestClient(t)

	client.Count("job.transition", 3, map[string]string{"result": "success"})
	assert.Equal(t, "nudged.job.transition:3|c|#result:success", read())
}

func TestClientEmitsGaugesAndTimings(t *testing.T) {
	client, read := newTestClient(t)

	client.Gauge("scheduler.last_success_epoch", 1700000000, nil)
	assert.Equal(t, "nudged.scheduler.last_success_epoch:1700000000|g", read())

	client.Timing("job.duration", 1500*time.Millisecond, nil)
	assert.Equal(t, "nudged.job.duration:1500|ms", read())
}

func TestClientSortsAndTrimsTags(t *testing.T) {
	client, read := newTestClient(t)

	client.Count("reaper.rows", 1, map[string]string{
		"step":     " clear_expired_leases ",
		"result":   "success",
		"":         "dropped",
		" padded ": "kept",
	})
	assert.Equal(t, "nudged.reaper.rows:1|c|#padded:kept,result:success,step:clear_expired_leases", read())
}

func TestClientNormalisesMetricNames(t *testing.T) {
	client, read := newTestClient(t)

	client.Count(" job/run result ", 1, nil)
	assert.Equal(t, "nudged.job_run_result:1|c", read())
}

func TestClientSkipsEmptyNames(t *testing.T) {
	client, read := newTestClient(t)

	client.Count("", 1, nil)
	client.Count("after", 1, nil)
	// The empty-name emit produced no datagram, so the next read is "after".
	assert.Equal(t, "nudged.after:1|c", read())
}

func TestDisabledClientIsInert(t *testing.T) {
	client, err := NewClient(Config{Enabled: false, Address: "localhost:8125"})
	require.NoError(t, err)

	assert.False(t, client.Enabled())
	assert.NotPanics(t, func() {
		client.Count("job.transition", 1, nil)
		client.Gauge("g", 1, nil)
		client.Timing("t", time.Second, nil)
	})
	assert.NoError(t, client.Close())
}

func TestNilClientIsSafe(t *testing.T) {
	var client *Client

	assert.False(t, client.Enabled())
	assert.NotPanics(t, func() {
		client.Count("job.transition", 1, nil)
		client.Gauge("g", 1, nil)
		client.Timing("t", time.Second, nil)
	})
	assert.NoError(t, client.Close())
}

func TestCloseDisablesEmission(t *testing.T) {
	client, _ := newTestClient(t)

	assert.True(t, client.Enabled())
	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())

	// Emitting after Close is a no-op, and closing twice is fine.
	assert.NotPanics(t, func() { client.Count("job.transition", 1, nil) })
	assert.NoError(t, client.Close())
}
