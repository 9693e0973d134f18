package racetelem

import (
	"context"
	"github.com/brutella/can"
	"github.com/jd3nn1s/racetelem/canbus"
)

type canBusStub struct {
	startChan chan struct{}
	errChan   chan error
	frameChan chan can.Frame
	closed    int
}

func createCANBusStub() *canBusStub {
	return &canBusStub{
		startChan: make(chan struct{}),
		errChan:   make(chan error),
		frameChan: make(chan can.Frame),
	}
}

func (c *canBusStub) Close() error {
	c.closed++
	return nil
}

func (c *canBusStub) Start(ctx context.Context, q *canbus.Queue) error {
	select {
	case c.startChan <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-c.errChan:
			return err
		case f := <-c.frameChan:
			q.Offer(f)
		}
	}
}
