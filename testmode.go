package racetelem

import (
	"context"
	"encoding/binary"
	"github.com/brutella/can"
	"github.com/jd3nn1s/racetelem/canbus"
	"math"
	"math/rand"
	"time"
)

const (
	simAmbientTemp = 25.0
	simMaxRPM      = 3000.0
	simBMSCells    = 5
)

// simulator produces motor controller and BMS frames that look like a car
// accelerating and braking on a loop.
type simulator struct {
	elapsed   float64
	pedal     float64
	rpm       float64
	direction uint8
	rng       *rand.Rand
}

func newSimulator(rng *rand.Rand) *simulator {
	return &simulator{
		direction: 1,
		rng:       rng,
	}
}

func (s *simulator) step(dt float64) []can.Frame {
	s.elapsed += dt

	s.pedal = math.Abs(math.Sin(s.elapsed*0.5)) * 0.8
	s.rpm += (s.pedal*simMaxRPM - s.rpm) * 0.1

	load := s.rpm / simMaxRPM
	voltage := 96 + s.rng.Float64()*4 - 2
	current := load * 150
	angle := math.Mod(s.elapsed*s.rpm/60*360, 360)

	frames := []can.Frame{
		frameWith(161, u16(0, scaledUp(simAmbientTemp+load*30))),
		frameWith(162,
			u16(0, scaledUp(simAmbientTemp+load*40)),
			u16(2, scaledUp(simAmbientTemp+load*50)),
			u16(4, scaledUp(simAmbientTemp+load*60))),
		pedalFrame(uint16(s.pedal*1000), uint16(s.pedal*100)),
		frameWith(165, u16(0, scaledUp(angle)), u16(2, uint16(s.rpm))),
		frameWith(166, u16(6, scaledUp(current))),
		frameWith(167, u16(0, scaledUp(voltage))),
		stateFrame(5, 3, s.direction),
		frameWith(172, u16(0, scaledUp(current*0.5)), u16(2, uint16(int(s.elapsed*1000)%65536))),
	}

	for cell := 0; cell < simBMSCells; cell++ {
		ov := uint16((3.7 + s.rng.Float64()*0.2 - 0.1) * 1000)
		res := uint16(50 + s.rng.Intn(100))
		frames = append(frames, frameWith(uint32(cell), u16(2, res), u16(4, ov)))
	}
	return frames
}

type field func(data *[8]byte)

func u16(offset int, v uint16) field {
	return func(data *[8]byte) {
		binary.LittleEndian.PutUint16(data[offset:offset+2], v)
	}
}

func scaledUp(v float64) uint16 {
	return uint16(v * 10)
}

func frameWith(id uint32, fields ...field) can.Frame {
	f := can.Frame{ID: id, Length: 8}
	for _, fn := range fields {
		fn(&f.Data)
	}
	return f
}

// pedalFrame packs pedal1 into the last 10 bits and pedal2 into bits [20,30)
// of the big-endian payload.
func pedalFrame(pedal1, pedal2 uint16) can.Frame {
	bits := uint64(pedal1&0x3ff) | uint64(pedal2&0x3ff)<<34
	f := can.Frame{ID: 163, Length: 8}
	binary.BigEndian.PutUint64(f.Data[:], bits)
	return f
}

func stateFrame(vsm, inverter, direction uint8) can.Frame {
	return can.Frame{
		ID:     170,
		Length: 8,
		Data:   [8]uint8{vsm, 0, inverter, 0, 0, 0, 0, direction},
	}
}

// testSource offers simulated frames to the queue at a fixed rate.
type testSource struct {
	q    *canbus.Queue
	rate int
	sim  *simulator
}

func newTestSource(q *canbus.Queue, rate int) *testSource {
	return &testSource{
		q:    q,
		rate: rate,
		sim:  newSimulator(rand.New(rand.NewSource(time.Now().UnixNano()))),
	}
}

func (s *testSource) Open() error {
	return nil
}

func (s *testSource) Close() error {
	return nil
}

func (s *testSource) Name() string {
	return "testmode"
}

func (s *testSource) Start(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.rate))
	defer ticker.Stop()
	dt := 1 / float64(s.rate)
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		for _, f := range s.sim.step(dt) {
			s.q.Offer(f)
		}
	}
}
