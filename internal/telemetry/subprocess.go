package telemetry

import (
	"os"
	"strconv"
	"strings"
)

// buildTargetResourceAttrs builds the OTEL_RESOURCE_ATTRIBUTES value that
// labels a launched target with the listener that started it.
func buildTargetResourceAttrs(listener string) string {
	attrs := []string{
		"netlaunch.listener=" + listener,
		"netlaunch.parent_pid=" + strconv.Itoa(os.Getpid()),
	}
	if existing := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); existing != "" {
		attrs = append([]string{existing}, attrs...)
	}
	return strings.Join(attrs, ",")
}

// TargetEnv returns the environment for a target launched by listener, or
// nil (inherit the parent environment) when telemetry is not active.
//
// Instrumented targets pick up the listener label and the netlaunch OTLP
// endpoints through the standard OTEL_* variables.
func TargetEnv(listener string) []string {
	metricsURL := os.Getenv(EnvMetricsURL)
	logsURL := os.Getenv(EnvLogsURL)
	if metricsURL == "" && logsURL == "" {
		return nil
	}

	env := os.Environ()
	env = append(env, "OTEL_RESOURCE_ATTRIBUTES="+buildTargetResourceAttrs(listener))
	if metricsURL != "" {
		env = append(env, "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT="+metricsURL)
	}
	if logsURL != "" {
		env = append(env, "OTEL_EXPORTER_OTLP_LOGS_ENDPOINT="+logsURL)
	}
	return env
}
