package racetelem

import (
	"context"
	"github.com/jd3nn1s/racetelem/canbus"
)

// busSource reads frames from a SocketCAN interface.
type busSource struct {
	c      CANBus
	ifName string
	q      *canbus.Queue
}

func (bus *busSource) Open() error {
	c, err := busConnect(bus.ifName)
	bus.c = c
	return err
}

func (bus *busSource) Close() error {
	if bus.c == nil {
		return nil
	}
	err := bus.c.Close()
	bus.c = nil
	return err
}

func (bus *busSource) Start(ctx context.Context) error {
	return bus.c.Start(ctx, bus.q)
}

func (bus *busSource) Name() string {
	return "canbus"
}

// to allow testing
var busConnect = func(ifName string) (CANBus, error) {
	c, err := canbus.Connect(ifName)
	if err != nil {
		return nil, err
	}
	return c, nil
}
