// Package racetelem is the writer side of the telemetry pipeline: it takes
// frames off the CAN bus, decodes them and publishes the values to the
// shared sensor store.
package racetelem

import (
	"context"
	"github.com/brutella/can"
	"github.com/jd3nn1s/racetelem/canbus"
	"github.com/jd3nn1s/racetelem/decoder"
	"github.com/jd3nn1s/racetelem/shmstore"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"sync/atomic"
	"time"
)

type Processor struct {
	store        shmstore.Store
	decoder      *decoder.Decoder
	queue        *canbus.Queue
	metrics      *Metrics
	pollInterval time.Duration

	sourceUp atomic.Bool
}

func NewProcessor(config *Config, store shmstore.Store, metrics *Metrics) *Processor {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	q := canbus.NewQueue(config.QueueSize)
	q.OnDrop = func(f can.Frame) {
		metrics.FramesDropped.Inc()
	}
	return &Processor{
		store:        store,
		decoder:      decoder.New(store, nil),
		queue:        q,
		metrics:      metrics,
		pollInterval: config.PollInterval,
	}
}

// Queue is where frame sources deliver frames.
func (p *Processor) Queue() *canbus.Queue {
	return p.queue
}

// Source builds the frame source described by config.
func (p *Processor) Source(config *Config) Retryable {
	if config.TestMode {
		return newTestSource(p.queue, config.TestRateHz)
	}
	return &busSource{
		ifName: config.Interface,
		q:      p.queue,
	}
}

// SourceUp reports whether the frame source is currently open.
func (p *Processor) SourceUp() bool {
	return p.sourceUp.Load()
}

// Run opens src and decodes its frames into the store until ctx is cancelled.
// Failing to open src is returned straight away; once running, source errors
// are logged and the source is reopened.
func (p *Processor) Run(ctx context.Context, src Retryable) error {
	if err := src.Open(); err != nil {
		return errors.Wrapf(err, "unable to open %s", src.Name())
	}
	p.sourceUp.Store(true)
	log.WithField("source", src.Name()).Info("frame source opened")

	srcDone := make(chan struct{})
	go func() {
		defer close(srcDone)
		_ = retry(ctx, src, func(up bool) {
			p.sourceUp.Store(up)
			if up {
				p.metrics.BusReconnects.Inc()
			}
		})
	}()
	defer func() {
		<-srcDone
		p.sourceUp.Store(false)
		if err := src.Close(); err != nil {
			log.WithField("err", err).Warnf("%s: unable to close", src.Name())
		}
		p.queue.Dispose()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("processor stopping")
			return nil
		default:
		}
		f, ok, err := p.queue.Poll(p.pollInterval)
		if err != nil {
			return errors.Wrap(err, "frame queue failed")
		}
		p.metrics.QueueDepth.Set(float64(p.queue.Len()))
		if !ok {
			continue
		}
		p.HandleFrame(f)
	}
}

// HandleFrame decodes one frame and writes the resulting updates. Bad frames
// are logged and dropped.
func (p *Processor) HandleFrame(f can.Frame) {
	p.metrics.FramesReceived.Inc()

	updates, err := p.decoder.Decode(f.ID, canbus.Payload(&f))
	if err != nil {
		log.WithField("canID", f.ID).
			WithField("err", err).
			Warn("dropping frame")
		p.metrics.FramesInvalid.Inc()
		return
	}
	if len(updates) == 0 {
		p.metrics.FramesIgnored.Inc()
		return
	}

	for _, u := range updates {
		if err := p.store.Write(u.Index, u.Value); err != nil {
			log.WithField("slot", u.Index).
				WithField("err", err).
				Error("unable to write slot")
			p.metrics.WriteErrors.Inc()
			continue
		}
		p.metrics.SlotWrites.Inc()
	}

	source := "bms"
	if decoder.IsMotor(f.ID) {
		source = "motor"
	}
	p.metrics.FramesDecoded.WithLabelValues(source).Inc()
}
