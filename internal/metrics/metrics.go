// Package metrics holds the shared prometheus bucket/label definitions
// every instrumented package builds its own promauto vectors from, the
// way the teacher's internal/util/metrics does for its stage package.
package metrics

// LatencyBuckets covers microsecond-scale reducer dispatch up through
// multi-second checkpoint/replay operations.
var LatencyBuckets = []float64{
	.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// DatabaseLabels names the one label common to every per-database gauge
// and counter in the host: which on-disk database it belongs to.
var DatabaseLabels = []string{"database"}

// ReducerLabels names the two labels common to per-reducer counters.
var ReducerLabels = []string{"database", "reducer"}
