package of

import (
	"log"
	"time"

	"github.com/netrack/ofcore/ratelimit"
)

// Logger is the logging sink used by every long-lived core component.
// It defaults to log.Default(); nothing in this package requires a
// structured logger, matching the teacher's direct use of the standard
// log package.
type Logger = log.Logger

// RateLimitedLogger wraps a Logger with one token bucket (§7/§9:
// "typical budget 1 per 5s, emit suppressed-count on next admitted
// line"), so a single misbehaving connection or a flapping port can't
// flood the host log. The bucket is not per call site: every call made
// through one RateLimitedLogger draws on the same budget, and
// suppressed calls from different sites are counted together.
type RateLimitedLogger struct {
	log    *Logger
	bucket *ratelimit.Bucket
}

// NewRateLimitedLogger wraps logger with a token bucket of the given
// budget. A nil logger defaults to log.Default().
func NewRateLimitedLogger(logger *Logger, interval time.Duration, burst int) *RateLimitedLogger {
	if logger == nil {
		logger = log.Default()
	}
	return &RateLimitedLogger{log: logger, bucket: ratelimit.NewBucket(interval, burst)}
}

// Printf logs format/args if the bucket admits the call, prefixing a
// note of how many prior calls through this logger were suppressed.
func (l *RateLimitedLogger) Printf(format string, args ...interface{}) {
	ok, suppressed := l.bucket.Allow()
	if !ok {
		return
	}
	if suppressed > 0 {
		l.log.Printf("(suppressed %d similar messages) "+format, append([]interface{}{suppressed}, args...)...)
		return
	}
	l.log.Printf(format, args...)
}
