package timeoff

import (
	"log/slog"
	"time"

	"github.com/warp/leave-ledger/generic"
)

// Options are shared by every service in this package. Zero values are
// replaced with defaults.
type Options struct {
	Retries int              // optimistic-conflict retry budget
	Clock   func() time.Time // defaults to time.Now
	Logger  *slog.Logger     // defaults to slog.Default()
}

func (o Options) withDefaults() Options {
	if o.Retries < 1 {
		o.Retries = generic.DefaultRetryAttempts
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) now() time.Time {
	return o.Clock().UTC()
}

func (o Options) today() generic.Date {
	return generic.DateOf(o.now())
}
