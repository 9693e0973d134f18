package canbus

import (
	"context"
	"github.com/brutella/can"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"sync"
)

type CANBus interface {
	SubscribeFunc(can.HandlerFunc)
	ConnectAndPublish() error
	Disconnect() error
}

// to allow testing
var newBus = func(ifName string) (CANBus, error) {
	bus, err := can.NewBusForInterfaceWithName(ifName)
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// Connection receives frames from a SocketCAN interface and offers them to a
// Queue.
type Connection struct {
	bus CANBus
	q   *Queue

	closeOnce sync.Once
	closeErr  error
}

func Connect(ifName string) (*Connection, error) {
	bus, err := newBus(ifName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open CAN interface %s", ifName)
	}
	return &Connection{
		bus: bus,
	}, nil
}

// Start publishes received frames to q until ctx is cancelled or the bus
// fails.
func (c *Connection) Start(ctx context.Context, q *Queue) error {
	c.q = q
	c.bus.SubscribeFunc(c.handleFrame)
	log.Info("CAN bus opened and subscribed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Infof("stopping can bus: %v", ctx.Err())
			if err := c.Close(); err != nil {
				log.WithField("err", err).Warn("unable to disconnect canbus after context")
			}
		case <-done:
		}
	}()

	err := c.bus.ConnectAndPublish()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return errors.New("can bus closed")
	}
	return errors.Wrap(err, "can bus receive failed")
}

// Close disconnects the bus. Only the first call reaches the bus; later calls
// return its result.
func (c *Connection) Close() error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	c.closeOnce.Do(func() {
		c.closeErr = c.bus.Disconnect()
	})
	return c.closeErr
}

func (c *Connection) handleFrame(frame can.Frame) {
	log.WithField("canID", frame.ID).
		WithField("length", frame.Length).
		Debug("received canbus frame")

	if !c.q.Offer(frame) {
		log.WithField("canID", frame.ID).Debug("frame queue full, dropping frame")
	}
}
