package transport

import (
	"strconv"
	"time"

	"github.com/armon/go-metrics"
)

var (
	metricWriteMessage = []string{"transport", "write", "message"}
	metricWriteError   = []string{"transport", "write", "error"}
	metricWriteLatency = []string{"transport", "write", "latency"}
	metricEncodeError  = []string{"transport", "encode", "error"}
	metricReadMessage  = []string{"transport", "read", "message"}
	metricReadError    = []string{"transport", "read", "error"}
	metricQueueDepth   = []string{"transport", "write", "queue"}
)

// channelMetrics emits transport metrics labelled with a channel id.
type channelMetrics struct {
	sink   *metrics.Metrics
	labels []metrics.Label
}

func newChannelMetrics(sink *metrics.Metrics, channelID int) *channelMetrics {
	if sink == nil {
		sink = metrics.Default()
	}
	return &channelMetrics{
		sink:   sink,
		labels: []metrics.Label{{Name: "channel_id", Value: strconv.Itoa(channelID)}},
	}
}

func (m *channelMetrics) incr(key []string) {
	m.sink.IncrCounterWithLabels(key, 1, m.labels)
}

func (m *channelMetrics) since(key []string, start time.Time) {
	m.sink.MeasureSinceWithLabels(key, start, m.labels)
}

func (m *channelMetrics) queue(depth int) {
	m.sink.SetGaugeWithLabels(metricQueueDepth, float32(depth), m.labels)
}
