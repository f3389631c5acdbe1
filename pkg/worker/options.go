package worker

import (
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

type Options struct {
	PollInterval time.Duration
	// Source users claimed per poll.
	BatchSize   int
	Concurrency int
	MaxAttempts int
	MaxBackoff  time.Duration
	JitterMax   time.Duration

	Logger *logrus.Entry
	Clock  clockwork.Clock
	Rand   *rand.Rand
}

func (o *Options) setDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.BatchSize == 0 {
		o.BatchSize = 20
	}
	if o.Concurrency == 0 {
		o.Concurrency = 4
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 60 * time.Second
	}
	if o.JitterMax == 0 {
		o.JitterMax = 200 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
}
