package racetelem

import (
	"context"
	log "github.com/sirupsen/logrus"
	"time"
)

var retrySleep = time.Second

type Retryable interface {
	Open() error
	Close() error
	Start(ctx context.Context) error
	Name() string
}

// retry keeps an opened Retryable running until ctx is cancelled. Whenever
// Start fails r is closed and reopened after retrySleep. up is told when r
// goes down and when it is back.
func retry(ctx context.Context, r Retryable, up func(bool)) error {
	var err error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			up(false)
			log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
			if closeErr := r.Close(); closeErr != nil {
				log.WithField("err", closeErr).Warnf("%s: unable to close", r.Name())
			}
			select {
			case <-time.After(retrySleep):
			case <-ctx.Done():
				return ctx.Err()
			}
			if err = r.Open(); err != nil {
				continue
			}
			log.Infof("%s: reconnected", r.Name())
			up(true)
		}
		err = r.Start(ctx)
	}
}
