package main

import (
	"context"
	"flag"
	"github.com/jd3nn1s/racetelem"
	"github.com/jd3nn1s/racetelem/sensors"
	"github.com/jd3nn1s/racetelem/shmstore"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"os"
	"os/signal"
	"syscall"
)

var configFile = flag.String("config", "canprocessor.toml", "configuration file, relative to the binary")
var testMode = flag.Bool("testmode", false, "generate test data instead of reading the CAN bus")
var debug = flag.Bool("debug", false, "debug logging")

func loadConfig() (*racetelem.Config, error) {
	config, err := racetelem.LoadConfig(*configFile)
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return nil, err
		}
		log.WithField("file", *configFile).Info("no configuration file, using defaults")
		config = racetelem.DefaultConfig()
	}
	if *testMode {
		config.TestMode = true
	}
	if *debug {
		config.LogLevel = "debug"
	}
	return config, config.Validate()
}

func run(ctx context.Context, config *racetelem.Config) error {
	store, err := shmstore.OpenWriter(config.SegmentName, sensors.Count)
	if err != nil {
		return errors.Wrap(err, "unable to map sensor store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithField("err", err).Error("unable to release sensor store")
		}
	}()
	log.WithField("segment", store.Name()).
		WithField("owner", store.Owner()).
		WithField("bytes", store.Size()).
		Info("sensor store mapped")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	p := racetelem.NewProcessor(config, store, racetelem.NewMetrics(reg))

	// the admin handlers read the store, so they must be gone before it is closed
	adminCtx, stopAdmin := context.WithCancel(ctx)
	adminDone := make(chan struct{})
	defer func() {
		stopAdmin()
		<-adminDone
	}()
	go func() {
		defer close(adminDone)
		if config.AdminAddr == "" {
			return
		}
		if err := racetelem.ServeAdmin(adminCtx, config.AdminAddr, racetelem.NewAdminHandler(reg, p)); err != nil {
			log.WithField("err", err).Error("admin server stopped")
		}
	}()

	return p.Run(ctx, p.Source(config))
}

func main() {
	flag.Parse()
	config, err := loadConfig()
	if err != nil {
		log.Fatal("unable to load configuration: ", err)
	}
	log.SetLevel(config.Level())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		stop()
		log.Fatal(err)
	}
	log.Info("shut down cleanly")
}
