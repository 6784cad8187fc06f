package perf

import (
	"expvar"
	"log/slog"

	"github.com/encodeous/metric"
)

var (
	FetchLatency     = metric.NewHistogram("1m1s")
	FetchedBytes     = metric.NewCounter("10s1s")
	FetchesPerSecond = metric.NewCounter("10s1s")
	FetchFailures    = metric.NewCounter("10s1s")
	SignLatency      = metric.NewHistogram("1m1s")
)

var published = map[string]expvar.Var{
	"dirgen:FetchLatency (ms)": FetchLatency,
	"dirgen:FetchedBytes/s":    FetchedBytes,
	"dirgen:Fetches/s":         FetchesPerSecond,
	"dirgen:FetchFailures/s":   FetchFailures,
	"dirgen:SignLatency (µs)":  SignLatency,
}

func init() {
	for name, v := range published {
		expvar.Publish(name, v)
	}
}

// LogSummary writes the current value of every metric at debug level.
func LogSummary(log *slog.Logger) {
	expvar.Do(func(kv expvar.KeyValue) {
		if _, ok := published[kv.Key]; ok {
			log.Debug("metric", "name", kv.Key, "value", kv.Value.String())
		}
	})
}
