package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/jd3nn1s/racetelem"
	"github.com/jd3nn1s/racetelem/consumer"
	"github.com/jd3nn1s/racetelem/forwarder"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var segmentName = flag.String("segment", racetelem.DefaultSegmentName, "shared memory segment to read")
var interval = flag.Duration("interval", time.Second, "how often to read the store")
var printSummary = flag.Bool("print", true, "print a summary to stdout")
var forwardConfig = flag.String("forward", "", "UDP forwarder configuration file; empty disables forwarding")
var wheelDiameter = flag.Float64("wheel-diameter", consumer.DefaultSpeedConfig().WheelDiameterIn, "wheel diameter in inches")
var gearRatio = flag.Float64("gear-ratio", consumer.DefaultSpeedConfig().GearRatio, "motor to wheel gear ratio")
var debug = flag.Bool("debug", false, "debug logging")

func dial(ctx context.Context) (*consumer.Reader, error) {
	speed := consumer.SpeedConfig{
		WheelDiameterIn: *wheelDiameter,
		GearRatio:       *gearRatio,
	}
	return consumer.Dial(ctx, *segmentName, speed, consumer.DefaultBackOff())
}

func run(ctx context.Context, fwder *forwarder.UDPForwarder) error {
	r, err := dial(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to attach to sensor store")
	}
	defer func() {
		if r != nil {
			r.Close()
		}
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		// the writer may have restarted and recreated the segment
		if stale, err := r.Stale(); stale {
			log.WithField("err", err).Warn("sensor store went away, reattaching")
			r.Close()
			if r, err = dial(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "unable to reattach to sensor store")
			}
		}

		if !r.IsValid() {
			log.Debug("no live values in sensor store yet")
		}
		if *printSummary {
			if err := r.Summary(os.Stdout); err != nil {
				return err
			}
			fmt.Println()
		}
		if fwder != nil {
			snapshot, err := r.Snapshot()
			if err != nil {
				return err
			}
			if err := fwder.Forward(snapshot); err != nil {
				log.WithField("err", err).Error("unable to forward snapshot")
			}
		}
	}
}

func main() {
	flag.Parse()
	if *debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var fwder *forwarder.UDPForwarder
	if *forwardConfig != "" {
		var err error
		fwder, err = forwarder.NewUDPForwarder(*forwardConfig)
		if err != nil {
			log.Fatal("unable to load UDP forwarder: ", err)
		}
		defer fwder.Close()
		go func() {
			_ = fwder.Start(ctx)
		}()
	}

	if err := run(ctx, fwder); err != nil {
		stop()
		log.Fatal(err)
	}
}
