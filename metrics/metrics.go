package metrics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "testrunner"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	artifactDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "artifact_downloads_total",
		Help:      "Count of files downloaded into the local repository",
	}, []string{
		"repository",
	})

	resolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "resolution_duration_seconds",
		Help:      "Duration of runner library resolution",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{
		"result",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of test runs by exit code",
	}, []string{
		"exit_code",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the test process",
	}, []string{
		"run_id",
	})

	launchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "launch_failures_total",
		Help:      "Count of test processes that could not be started",
	})

	sinkWriteFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "sink_write_failures_total",
		Help:      "Count of output sinks that stopped accepting lines",
	}, []string{
		"sink",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordArtifactDownload(repository string) {
	artifactDownloadsTotal.WithLabelValues(repository).Inc()
}

func RecordResolution(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	resolutionDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func RecordRun(runID string, exitCode int, duration time.Duration) {
	if Debug {
		log.Debug("metric inc",
			"m", "runs_total",
			"run_id", runID,
			"exit_code", exitCode,
			"duration", duration)
	}
	runsTotal.WithLabelValues(strconv.Itoa(exitCode)).Inc()
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func RecordLaunchFailure() {
	launchFailuresTotal.Inc()
}

func RecordSinkWriteFailure(sink string) {
	sinkWriteFailuresTotal.WithLabelValues(sink).Inc()
}
