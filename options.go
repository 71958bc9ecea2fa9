package ringfs

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Options holds the settings shared by every mounted volume.
type Options struct {
	// Logger receives debug-level events such as mount geometry and cluster
	// allocation. The default logger discards everything.
	Logger logrus.FieldLogger
	// Clock supplies the timestamps written into new directory entries.
	Clock func() time.Time
}

// Option configures a mounted volume.
type Option func(*Options)

// WithLogger sets the logger a volume reports to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithClock overrides the time source used for directory entry timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

// NewOptions applies `opts` on top of the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		Logger: DiscardLogger(),
		Clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DiscardLogger returns a logger that writes nowhere.
func DiscardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
