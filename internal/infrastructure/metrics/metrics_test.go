package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := Recorder{}

	before := testutil.ToFloat64(ActiveConnections)
	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionClosed()
	assert.Equal(t, before+1, testutil.ToFloat64(ActiveConnections))

	roomBefore := testutil.ToFloat64(Broadcasts.WithLabelValues("room"))
	r.Broadcast("room")
	assert.Equal(t, roomBefore+1, testutil.ToFloat64(Broadcasts.WithLabelValues("room")))

	slaBefore := testutil.ToFloat64(SLAAlerts.WithLabelValues("queue_wait_seconds", "warning"))
	r.SLAAlert("queue_wait_seconds", "warning")
	assert.Equal(t, slaBefore+1, testutil.ToFloat64(SLAAlerts.WithLabelValues("queue_wait_seconds", "warning")))

	dropBefore := testutil.ToFloat64(RelaysDropped)
	RecordRelayDropped("live_chat:broadcast")
	assert.Equal(t, dropBefore+1, testutil.ToFloat64(RelaysDropped))
}
