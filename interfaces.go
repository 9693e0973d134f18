package racetelem

import (
	"context"
	"github.com/jd3nn1s/racetelem/canbus"
)

type CANBus interface {
	Close() error
	Start(context.Context, *canbus.Queue) error
}
