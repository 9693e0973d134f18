package decoder

import (
	"encoding/binary"
	"fmt"
	"github.com/jd3nn1s/racetelem/sensors"
	"math/rand"
	"time"
)

const (
	motorFirstID uint32 = 160
	motorLastID         = 172

	frameCBTemp    uint32 = 161
	frameTemps            = 162
	framePedals           = 163
	framePosition         = 165
	frameCurrent          = 166
	frameVoltage          = 167
	frameStates           = 170
	frameTorque           = 172

	// every message carries a fixed 8 byte payload
	payloadLength = 8

	pedal2Offset = 1.03
)

// Update is a single slot write produced by decoding a frame.
type Update struct {
	Index sensors.Index
	Value float32
}

// DecodeError describes a frame that was dropped.
type DecodeError struct {
	ID     uint32
	Length int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unable to decode frame %d (length %d): %s", e.ID, e.Length, e.Reason)
}

// SlotReader gives the decoder access to values already published. It is only
// used to recompute the BMS averages.
type SlotReader interface {
	Read(i sensors.Index) (float32, error)
}

type Decoder struct {
	slots SlotReader
	pick  func(n int) int
}

// New returns a decoder that reads BMS sample siblings from slots. A nil rng
// is replaced by one seeded from the clock.
func New(slots SlotReader, rng *rand.Rand) *Decoder {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Decoder{
		slots: slots,
		pick:  rng.Intn,
	}
}

func IsMotor(id uint32) bool {
	return id >= motorFirstID && id <= motorLastID
}

func IsBMS(id uint32) bool {
	return id < motorFirstID
}

// Decode maps a frame to the slot updates it implies. Frames from unknown IDs
// yield no updates and no error. A short or oversized payload yields a
// *DecodeError and no updates.
func (d *Decoder) Decode(id uint32, payload []byte) ([]Update, error) {
	switch {
	case IsMotor(id):
		if err := checkLength(id, payload); err != nil {
			return nil, err
		}
		return decodeMotor(id, payload), nil
	case IsBMS(id):
		if err := checkLength(id, payload); err != nil {
			return nil, err
		}
		return d.decodeBMS(payload)
	}
	return nil, nil
}

func checkLength(id uint32, payload []byte) error {
	switch {
	case len(payload) < payloadLength:
		return &DecodeError{ID: id, Length: len(payload), Reason: "short payload"}
	case len(payload) > payloadLength:
		return &DecodeError{ID: id, Length: len(payload), Reason: "payload longer than a classical CAN frame"}
	}
	return nil
}

func decodeMotor(id uint32, data []byte) []Update {
	switch id {
	case frameCBTemp:
		return []Update{
			{sensors.MotorCBTemp, scaled(data, 0, 10)},
		}
	case frameTemps:
		return []Update{
			{sensors.MotorCoolantTemp, scaled(data, 0, 10)},
			{sensors.MotorHeatsinkTemp, scaled(data, 2, 10)},
			{sensors.MotorTemp, scaled(data, 4, 10)},
		}
	case framePedals:
		pedal1, pedal2 := pedalBits(data)
		return []Update{
			{sensors.Pedal1Position, float32(float64(pedal1) / 1000)},
			{sensors.Pedal2Position, float32(float64(pedal2)/100 + pedal2Offset)},
		}
	case framePosition:
		return []Update{
			{sensors.MotorAngle, scaled(data, 0, 10)},
			{sensors.MotorSpeed, float32(uint16At(data, 2))},
		}
	case frameCurrent:
		return []Update{
			{sensors.DCCurrent, scaled(data, 6, 10)},
		}
	case frameVoltage:
		return []Update{
			{sensors.DCVoltage, scaled(data, 0, 10)},
		}
	case frameStates:
		return []Update{
			{sensors.VSMState, float32(data[0])},
			{sensors.InverterState, float32(data[2])},
			{sensors.Direction, float32(data[7] & 1)},
		}
	case frameTorque:
		return []Update{
			{sensors.Torque, scaled(data, 0, 10)},
			{sensors.Timer, float32(uint16At(data, 2))},
		}
	}
	return nil
}

// pedalBits reads the payload as one big-endian 64 bit string. pedal1 is the
// last 10 bits, pedal2 is bits [20,30) counted from the start of the string.
func pedalBits(data []byte) (pedal1, pedal2 uint16) {
	bits := binary.BigEndian.Uint64(data[:payloadLength])
	pedal1 = uint16(bits & 0x3ff)
	pedal2 = uint16((bits >> (64 - 30)) & 0x3ff)
	return
}

// decodeBMS overwrites one randomly chosen resistance sample and one randomly
// chosen open voltage sample, then recomputes both averages from the two
// sample slots of each pair.
func (d *Decoder) decodeBMS(data []byte) ([]Update, error) {
	res := float32(uint16At(data, 2))
	ov := float32(uint16At(data, 4))

	resIdx := sensors.BMSRes1 + sensors.Index(d.pick(2))
	ovIdx := sensors.BMSOV1 + sensors.Index(d.pick(2))

	resAvg, err := d.pairMean(sensors.BMSRes1, resIdx, res)
	if err != nil {
		return nil, err
	}
	ovAvg, err := d.pairMean(sensors.BMSOV1, ovIdx, ov)
	if err != nil {
		return nil, err
	}

	return []Update{
		{resIdx, res},
		{ovIdx, ov},
		{sensors.BMSResAvg, resAvg},
		{sensors.BMSOVAvg, ovAvg},
	}, nil
}

func (d *Decoder) pairMean(first, written sensors.Index, v float32) (float32, error) {
	sibling := first
	if written == first {
		sibling = first + 1
	}
	var other float32
	if d.slots != nil {
		var err error
		if other, err = d.slots.Read(sibling); err != nil {
			return 0, err
		}
	}
	return (v + other) / 2, nil
}

func uint16At(data []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(data[offset : offset+2])
}

func scaled(data []byte, offset int, divisor float64) float32 {
	return float32(float64(uint16At(data, offset)) / divisor)
}
