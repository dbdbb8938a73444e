package slave

import "github.com/rcrowley/go-metrics"

// Metric names reported to the driver registry.
const (
	MetricRecvLoaded     = "recv.loaded"
	MetricRecvBuffers    = "recv.buffers"
	MetricRecvPackets    = "recv.packets"
	MetricRecvBytes      = "recv.bytes"
	MetricSendQueued     = "send.queued"
	MetricSendFinished   = "send.finished"
	MetricSendBytes      = "send.bytes"
	MetricSendDepth      = "send.queue_depth"
	MetricInterrupts     = "intr.count"
	MetricHostInterrupts = "intr.host"
	MetricEventsDropped  = "intr.events_dropped"
)

type driverMetrics struct {
	recvLoaded     metrics.Counter
	recvBuffers    metrics.Counter
	recvPackets    metrics.Counter
	recvBytes      metrics.Counter
	sendQueued     metrics.Counter
	sendFinished   metrics.Counter
	sendBytes      metrics.Counter
	sendDepth      metrics.Gauge
	interrupts     metrics.Counter
	hostInterrupts metrics.Counter
	eventsDropped  metrics.Counter
}

func newDriverMetrics(r metrics.Registry) *driverMetrics {
	return &driverMetrics{
		recvLoaded:     metrics.GetOrRegisterCounter(MetricRecvLoaded, r),
		recvBuffers:    metrics.GetOrRegisterCounter(MetricRecvBuffers, r),
		recvPackets:    metrics.GetOrRegisterCounter(MetricRecvPackets, r),
		recvBytes:      metrics.GetOrRegisterCounter(MetricRecvBytes, r),
		sendQueued:     metrics.GetOrRegisterCounter(MetricSendQueued, r),
		sendFinished:   metrics.GetOrRegisterCounter(MetricSendFinished, r),
		sendBytes:      metrics.GetOrRegisterCounter(MetricSendBytes, r),
		sendDepth:      metrics.GetOrRegisterGauge(MetricSendDepth, r),
		interrupts:     metrics.GetOrRegisterCounter(MetricInterrupts, r),
		hostInterrupts: metrics.GetOrRegisterCounter(MetricHostInterrupts, r),
		eventsDropped:  metrics.GetOrRegisterCounter(MetricEventsDropped, r),
	}
}
