// Recording helpers for listener and dispatch events.
// Each function emits an OTel log event and increments a metric counter.
// Without Init both go to the no-op global providers.

package telemetry

import (
	"context"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/steveyegge/netlaunch"
	loggerName        = "netlaunch"
)

// recorderInstruments holds all lazy-initialized OTel metric instruments.
type recorderInstruments struct {
	sessionStartTotal metric.Int64Counter
	sessionStopTotal  metric.Int64Counter
	bindFailureTotal  metric.Int64Counter
	reconnectTotal    metric.Int64Counter
	messageTotal      metric.Int64Counter
	launchTotal       metric.Int64Counter
	killTotal         metric.Int64Counter
	foregroundTotal   metric.Int64Counter

	windowWaitHist metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers all recorder metric instruments against the current
// global MeterProvider. Must be called after telemetry.Init so the real
// provider is set. Also called lazily on first use as a safety net.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.sessionStartTotal, _ = m.Int64Counter("netlaunch.session.starts.total",
			metric.WithDescription("Total listen sessions that bound their endpoint"),
		)
		inst.sessionStopTotal, _ = m.Int64Counter("netlaunch.session.stops.total",
			metric.WithDescription("Total listen session terminations"),
		)
		inst.bindFailureTotal, _ = m.Int64Counter("netlaunch.session.bind_failures.total",
			metric.WithDescription("Total failed endpoint binds"),
		)
		inst.reconnectTotal, _ = m.Int64Counter("netlaunch.listener.reconnects.total",
			metric.WithDescription("Total requested listener reconnects"),
		)
		inst.messageTotal, _ = m.Int64Counter("netlaunch.messages.total",
			metric.WithDescription("Total received payloads by decision"),
		)
		inst.launchTotal, _ = m.Int64Counter("netlaunch.process.launches.total",
			metric.WithDescription("Total target launches"),
		)
		inst.killTotal, _ = m.Int64Counter("netlaunch.process.kills.total",
			metric.WithDescription("Total target kills"),
		)
		inst.foregroundTotal, _ = m.Int64Counter("netlaunch.window.foregrounds.total",
			metric.WithDescription("Total attempts to bring a target window to the front"),
		)

		inst.windowWaitHist, _ = m.Float64Histogram("netlaunch.window.wait_ms",
			metric.WithDescription("Time from launch until the target presented a window"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and key-value attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// errKV returns a log KeyValue with the error message, or empty string if nil.
func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

// severity returns SeverityInfo on success, SeverityError on failure.
func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

// maxPayloadLog is the maximum number of payload bytes captured in logs.
const maxPayloadLog = 256

// truncateOutput trims s to max bytes and appends "…" when truncated.
// Avoids splitting multi-byte UTF-8 characters at the boundary.
func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	truncated := s[:max]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "…"
}

// RecordSessionStart records a session that bound its endpoint.
func RecordSessionStart(ctx context.Context, listener, sessionID, protocol, endpoint string) {
	initInstruments()
	inst.sessionStartTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("listener", listener),
			attribute.String("protocol", protocol),
		),
	)
	emit(ctx, "session.start", otellog.SeverityInfo,
		otellog.String("listener", listener),
		otellog.String("session_id", sessionID),
		otellog.String("protocol", protocol),
		otellog.String("endpoint", endpoint),
	)
}

// RecordSessionStop records the end of a session. err is nil for a clean cancel.
func RecordSessionStop(ctx context.Context, listener, sessionID string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.sessionStopTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("listener", listener),
			attribute.String("status", status),
		),
	)
	emit(ctx, "session.stop", severity(err),
		otellog.String("listener", listener),
		otellog.String("session_id", sessionID),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordBindFailure records a failed bind and the backoff chosen before the retry.
func RecordBindFailure(ctx context.Context, listener, endpoint string, backoffMs int64, err error) {
	initInstruments()
	inst.bindFailureTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("listener", listener)),
	)
	emit(ctx, "session.bind_failure", otellog.SeverityWarn,
		otellog.String("listener", listener),
		otellog.String("endpoint", endpoint),
		otellog.Int64("backoff_ms", backoffMs),
		errKV(err),
	)
}

// RecordReconnect records a reconnect request for one listener.
func RecordReconnect(ctx context.Context, listener, reason string) {
	initInstruments()
	inst.reconnectTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("listener", listener),
			attribute.String("reason", reason),
		),
	)
	emit(ctx, "listener.reconnect", otellog.SeverityInfo,
		otellog.String("listener", listener),
		otellog.String("reason", reason),
	)
}

// RecordMessage records a received payload and the decision taken for it.
func RecordMessage(ctx context.Context, listener, payload, action string) {
	initInstruments()
	inst.messageTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("listener", listener),
			attribute.String("action", action),
		),
	)
	emit(ctx, "message.received", otellog.SeverityInfo,
		otellog.String("listener", listener),
		otellog.String("payload", truncateOutput(payload, maxPayloadLog)),
		otellog.Int64("payload_len", int64(len(payload))),
		otellog.String("action", action),
	)
}

// RecordLaunch records a target launch attempt.
func RecordLaunch(ctx context.Context, listener, target string, pid int, err error) {
	initInstruments()
	status := statusStr(err)
	inst.launchTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("listener", listener),
			attribute.String("status", status),
		),
	)
	emit(ctx, "process.launch", severity(err),
		otellog.String("listener", listener),
		otellog.String("target", target),
		otellog.Int("pid", pid),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordKill records a kill of a tracked target. reason is "kill" or "supersede".
func RecordKill(ctx context.Context, listener string, pid int, reason string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.killTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("listener", listener),
			attribute.String("reason", reason),
			attribute.String("status", status),
		),
	)
	emit(ctx, "process.kill", severity(err),
		otellog.String("listener", listener),
		otellog.Int("pid", pid),
		otellog.String("reason", reason),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordForeground records the window wait and foreground call for a launch.
func RecordForeground(ctx context.Context, listener string, pid int, waitMs float64, err error) {
	initInstruments()
	status := statusStr(err)
	attrs := metric.WithAttributes(
		attribute.String("listener", listener),
		attribute.String("status", status),
	)
	inst.foregroundTotal.Add(ctx, 1, attrs)
	if err == nil {
		inst.windowWaitHist.Record(ctx, waitMs, attrs)
	}
	emit(ctx, "window.foreground", severity(err),
		otellog.String("listener", listener),
		otellog.Int("pid", pid),
		otellog.Float64("wait_ms", waitMs),
		otellog.String("status", status),
		errKV(err),
	)
}
