// Package monitoring carries the progress log shared by every generation
// stage.
package monitoring

import (
	"log"
	"time"

	"github.com/banshee-data/geosynth/internal/timeutil"
)

// Logf is the package-level progress logger. It defaults to log.Printf but
// may be replaced by SetLogger so tests can capture or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Stopwatch times one stage of a job.
type Stopwatch struct {
	clock timeutil.Clock
	start time.Time
}

// Start logs the stage description and starts timing it.
func Start(clock timeutil.Clock, format string, v ...interface{}) *Stopwatch {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	Logf(format, v...)
	return &Stopwatch{clock: clock, start: clock.Now()}
}

// Done logs the elapsed time and returns it.
func (s *Stopwatch) Done() time.Duration {
	elapsed := s.clock.Since(s.start)
	Logf("Done. %.2f seconds elapsed.", elapsed.Seconds())
	return elapsed
}
