package daemon

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/netlaunch/internal/trigger"
)

const meterName = "github.com/steveyegge/netlaunch/daemon"

// daemonMetrics holds OTel instruments for the daemon.
// All methods are nil-safe so callers don't need to guard against disabled telemetry.
type daemonMetrics struct {
	// reloadTotal counts config reloads, labeled by source and outcome.
	reloadTotal metric.Int64Counter

	// mu protects the gauge values written by publishState.
	mu         sync.RWMutex
	listeners  int64
	receiving  int64
	bindFailed int64
	targets    int64
}

// newDaemonMetrics registers all daemon OTel instruments against the global
// MeterProvider. Must be called after telemetry.Init so the provider is set.
func newDaemonMetrics() (*daemonMetrics, error) {
	m := otel.GetMeterProvider().Meter(meterName)
	dm := &daemonMetrics{}

	var err error

	dm.reloadTotal, err = m.Int64Counter("netlaunch.daemon.reload.total",
		metric.WithDescription("Total number of config reloads"),
	)
	if err != nil {
		return nil, err
	}

	listenersGauge, err := m.Int64ObservableGauge("netlaunch.listeners",
		metric.WithDescription("Supervised listeners"),
	)
	if err != nil {
		return nil, err
	}

	receivingGauge, err := m.Int64ObservableGauge("netlaunch.listeners.receiving",
		metric.WithDescription("Listeners with a bound session waiting for messages"),
	)
	if err != nil {
		return nil, err
	}

	bindFailedGauge, err := m.Int64ObservableGauge("netlaunch.listeners.bind_failed",
		metric.WithDescription("Listeners waiting out a bind backoff"),
	)
	if err != nil {
		return nil, err
	}

	targetsGauge, err := m.Int64ObservableGauge("netlaunch.targets.running",
		metric.WithDescription("Launched targets still running"),
	)
	if err != nil {
		return nil, err
	}

	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		dm.mu.RLock()
		defer dm.mu.RUnlock()
		o.ObserveInt64(listenersGauge, dm.listeners)
		o.ObserveInt64(receivingGauge, dm.receiving)
		o.ObserveInt64(bindFailedGauge, dm.bindFailed)
		o.ObserveInt64(targetsGauge, dm.targets)
		return nil
	}, listenersGauge, receivingGauge, bindFailedGauge, targetsGauge)
	if err != nil {
		return nil, err
	}

	return dm, nil
}

// recordReload counts one reload. source is "watch" or "signal".
func (dm *daemonMetrics) recordReload(ctx context.Context, source string, err error) {
	if dm == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	dm.reloadTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
}

// updateListeners stores the latest supervisor snapshot for the observable gauges.
func (dm *daemonMetrics) updateListeners(statuses []trigger.ListenerStatus, targets int) {
	if dm == nil {
		return
	}
	var receiving, bindFailed int64
	for _, st := range statuses {
		switch st.Phase {
		case trigger.PhaseReceiving.String(), trigger.PhaseDispatching.String():
			receiving++
		case trigger.PhaseBindFailed.String():
			bindFailed++
		}
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.listeners = int64(len(statuses))
	dm.receiving = receiving
	dm.bindFailed = bindFailed
	dm.targets = int64(targets)
}
