// Package consumer is the read side of the sensor store used by the dashboard,
// loggers and test harnesses. Callers address sensors by index or name and
// never deal with the memory layout.
package consumer

import (
	"fmt"
	"github.com/jd3nn1s/racetelem/sensors"
	"github.com/jd3nn1s/racetelem/shmstore"
	"github.com/pkg/errors"
	"io"
	"math"
)

var (
	ErrOutOfRange    = shmstore.ErrOutOfRange
	ErrUnknownSensor = errors.New("unknown sensor")
)

// SpeedConfig describes the drivetrain used to turn motor RPM into road speed.
type SpeedConfig struct {
	WheelDiameterIn float64
	GearRatio       float64
}

func DefaultSpeedConfig() SpeedConfig {
	return SpeedConfig{
		WheelDiameterIn: 20,
		GearRatio:       10.5,
	}
}

type Consumer struct {
	store shmstore.Store
	speed SpeedConfig
}

func New(store shmstore.Store, speed SpeedConfig) *Consumer {
	return &Consumer{
		store: store,
		speed: speed,
	}
}

// Store returns the underlying store.
func (c *Consumer) Store() shmstore.Store {
	return c.store
}

// Get returns the value of slot i.
func (c *Consumer) Get(i sensors.Index) (float32, error) {
	if int(i) >= c.store.Len() {
		return 0, errors.Wrapf(ErrOutOfRange, "index %d, %d sensors", i, c.store.Len())
	}
	return c.store.Read(i)
}

func (c *Consumer) GetByName(name string) (float32, error) {
	i, ok := sensors.Lookup(name)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownSensor, "%q", name)
	}
	return c.Get(i)
}

// Set writes a slot. Only a writable store accepts it; test harnesses use it
// to inject values.
func (c *Consumer) Set(i sensors.Index, v float32) error {
	return c.store.Write(i, v)
}

func (c *Consumer) GetAll() (map[string]float32, error) {
	return c.values(0, sensors.Index(sensors.Count))
}

func (c *Consumer) MotorValues() (map[string]float32, error) {
	return c.values(sensors.MotorStart, sensors.BMSStart)
}

func (c *Consumer) BMSValues() (map[string]float32, error) {
	return c.values(sensors.BMSStart, sensors.Index(sensors.Count))
}

func (c *Consumer) values(from, to sensors.Index) (map[string]float32, error) {
	out := make(map[string]float32, to-from)
	for i := from; i < to; i++ {
		v, err := c.Get(i)
		if err != nil {
			return nil, err
		}
		out[i.String()] = v
	}
	return out, nil
}

// Snapshot copies every slot in registry order.
func (c *Consumer) Snapshot() ([]float32, error) {
	out := make([]float32, sensors.Count)
	for i := range out {
		v, err := c.Get(sensors.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Power is DC bus voltage times DC bus current, in watts. The two values may
// come from different frames.
func (c *Consumer) Power() (float64, error) {
	v, err := c.Get(sensors.DCVoltage)
	if err != nil {
		return 0, err
	}
	a, err := c.Get(sensors.DCCurrent)
	if err != nil {
		return 0, err
	}
	return float64(v) * float64(a), nil
}

func (c *Consumer) SpeedMPH() (float64, error) {
	rpm, err := c.Get(sensors.MotorSpeed)
	if err != nil {
		return 0, err
	}
	return SpeedMPH(float64(rpm), c.speed), nil
}

// SpeedMPH converts motor RPM into road speed through the gear ratio and
// wheel circumference.
func SpeedMPH(rpm float64, cfg SpeedConfig) float64 {
	wheelRPM := rpm / cfg.GearRatio
	circumferenceFt := math.Pi * cfg.WheelDiameterIn / 12
	return wheelRPM * circumferenceFt * 60 / 5280
}

// IsValid is a liveness smell test: it is true if motor speed or DC voltage is
// nonzero. It says nothing about how fresh or correct the values are; a
// writer that died leaves its last values in place and IsValid stays true.
func (c *Consumer) IsValid() bool {
	speed, err := c.Get(sensors.MotorSpeed)
	if err != nil {
		return false
	}
	voltage, err := c.Get(sensors.DCVoltage)
	if err != nil {
		return false
	}
	return speed != 0 || voltage != 0
}

func (c *Consumer) DirectionText() (string, error) {
	d, err := c.Get(sensors.Direction)
	if err != nil {
		return "", err
	}
	if d == 1 {
		return "Forward", nil
	}
	return "Reverse", nil
}

// Summary writes the key readings in a human readable block.
func (c *Consumer) Summary(w io.Writer) error {
	get := func(i sensors.Index) float32 {
		v, _ := c.Get(i)
		return v
	}
	power, err := c.Power()
	if err != nil {
		return err
	}
	direction, err := c.DirectionText()
	if err != nil {
		return err
	}
	mph, err := c.SpeedMPH()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Motor Speed:     %8.1f RPM\n"+
		"Speed:           %8.1f mph\n"+
		"Motor Temp:      %8.1f C\n"+
		"DC Voltage:      %8.1f V\n"+
		"DC Current:      %8.1f A\n"+
		"Power:           %8.0f W\n"+
		"Torque:          %8.1f Nm\n"+
		"Pedal Position:  %8.1f %%\n"+
		"Direction:       %8s\n"+
		"BMS Avg Voltage: %8.2f\n",
		get(sensors.MotorSpeed),
		mph,
		get(sensors.MotorTemp),
		get(sensors.DCVoltage),
		get(sensors.DCCurrent),
		power,
		get(sensors.Torque),
		get(sensors.Pedal1Position)*100,
		direction,
		get(sensors.BMSOVAvg),
	)
	return err
}
