package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AgentMetrics holds all the update agent metrics. A nil *AgentMetrics records nothing.
type AgentMetrics struct {
	metric.Meter

	ConnectAttempts    metric.Int64Counter
	RejectedOperations metric.Int64Counter
	UpdateChecks       metric.Int64Counter
	Downloads          metric.Int64Counter
	DownloadChunks     metric.Int64Counter
	DownloadBytes      metric.Int64Counter
	DownloadDuration   metric.Float64Histogram

	CPUPercent   metric.Int64Gauge
	MemoryUsed   metric.Int64Gauge
	StorageUsed  metric.Int64Gauge
	Temperature  metric.Float64Gauge
	UptimeSecond metric.Int64Gauge
}

func NewAgentMetrics(meter metric.Meter) (*AgentMetrics, error) {
	connectAttempts, err := meter.Int64Counter("ota_connect_attempts_total",
		metric.WithDescription("Proxy build and liveness attempts of the connection supervisor"))
	if err != nil {
		return nil, err
	}

	rejectedOperations, err := meter.Int64Counter("ota_rejected_operations_total",
		metric.WithDescription("Operations rejected because another operation was running"))
	if err != nil {
		return nil, err
	}

	updateChecks, err := meter.Int64Counter("ota_update_checks_total")
	if err != nil {
		return nil, err
	}

	downloads, err := meter.Int64Counter("ota_downloads_total")
	if err != nil {
		return nil, err
	}

	downloadChunks, err := meter.Int64Counter("ota_download_chunks_total")
	if err != nil {
		return nil, err
	}

	downloadBytes, err := meter.Int64Counter("ota_download_bytes_total", metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	downloadDuration, err := meter.Float64Histogram("ota_download_duration_seconds",
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(getStandardBucketBoundaries()...))
	if err != nil {
		return nil, err
	}

	cpuPercent, err := meter.Int64Gauge("ota_device_cpu_percent")
	if err != nil {
		return nil, err
	}

	memoryUsed, err := meter.Int64Gauge("ota_device_memory_used_bytes", metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	storageUsed, err := meter.Int64Gauge("ota_device_storage_used_bytes", metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	temperature, err := meter.Float64Gauge("ota_device_temperature_celsius")
	if err != nil {
		return nil, err
	}

	uptime, err := meter.Int64Gauge("ota_device_uptime_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &AgentMetrics{
		Meter:              meter,
		ConnectAttempts:    connectAttempts,
		RejectedOperations: rejectedOperations,
		UpdateChecks:       updateChecks,
		Downloads:          downloads,
		DownloadChunks:     downloadChunks,
		DownloadBytes:      downloadBytes,
		DownloadDuration:   downloadDuration,
		CPUPercent:         cpuPercent,
		MemoryUsed:         memoryUsed,
		StorageUsed:        storageUsed,
		Temperature:        temperature,
		UptimeSecond:       uptime,
	}, nil
}

// ConnectAttempt counts one attempt of the given phase
func (m *AgentMetrics) ConnectAttempt(ctx context.Context, phase string, ok bool) {
	if m == nil {
		return
	}
	m.ConnectAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("success", ok),
	))
}

// OperationRejected counts an operation submitted while the agent was busy
func (m *AgentMetrics) OperationRejected(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.RejectedOperations.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// UpdateChecked counts a finished update check by its result
func (m *AgentMetrics) UpdateChecked(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.UpdateChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// ChunkReceived counts a chunk written to the output file
func (m *AgentMetrics) ChunkReceived(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.DownloadChunks.Add(ctx, 1)
	m.DownloadBytes.Add(ctx, int64(size))
}

// DownloadFinished counts a download by its result and records how long it took
func (m *AgentMetrics) DownloadFinished(ctx context.Context, result string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.Downloads.Add(ctx, 1, attrs)
	m.DownloadDuration.Record(ctx, took.Seconds(), attrs)
}

// DeviceSample records one telemetry sample
func (m *AgentMetrics) DeviceSample(ctx context.Context, cpu uint8, memUsed, storageUsed uint64, tempC float64, uptime time.Duration) {
	if m == nil {
		return
	}
	m.CPUPercent.Record(ctx, int64(cpu))
	m.MemoryUsed.Record(ctx, int64(memUsed))
	m.StorageUsed.Record(ctx, int64(storageUsed))
	m.Temperature.Record(ctx, tempC)
	m.UptimeSecond.Record(ctx, int64(uptime.Seconds()))
}

func getStandardBucketBoundaries() []float64 {
	return []float64{
		0.1,
		0.5,
		1,
		5,
		10,
		30,
		60,
		300,
		600,
		1800,
	}
}
