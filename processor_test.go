package racetelem

import (
	"context"
	"encoding/binary"
	"github.com/brutella/can"
	"github.com/jd3nn1s/racetelem/consumer"
	"github.com/jd3nn1s/racetelem/sensors"
	"github.com/jd3nn1s/racetelem/shmstore"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	ch := make(chan prometheus.Metric, 8)
	c.Collect(ch)
	close(ch)
	total := 0.0
	for m := range ch {
		pb := &dto.Metric{}
		require.NoError(t, m.Write(pb))
		total += pb.GetCounter().GetValue()
	}
	return total
}

func newTestProcessor() (*Processor, *shmstore.Memory, *Metrics) {
	store := shmstore.NewMemory(sensors.Count)
	metrics := NewMetrics(prometheus.NewRegistry())
	config := DefaultConfig()
	config.PollInterval = 10 * time.Millisecond
	return NewProcessor(config, store, metrics), store, metrics
}

func tempFrame(coolant, heatsink, motor uint16) can.Frame {
	f := can.Frame{ID: 162, Length: 8}
	binary.LittleEndian.PutUint16(f.Data[0:2], coolant)
	binary.LittleEndian.PutUint16(f.Data[2:4], heatsink)
	binary.LittleEndian.PutUint16(f.Data[4:6], motor)
	return f
}

func TestHandleFrame(t *testing.T) {
	p, store, metrics := newTestProcessor()
	c := consumer.New(store, consumer.DefaultSpeedConfig())

	p.HandleFrame(tempFrame(250, 300, 400))
	motor, err := c.MotorValues()
	require.NoError(t, err)
	assert.Equal(t, float32(25), motor["MotorCoolantTemp"])
	assert.Equal(t, float32(30), motor["MotorHeatsinkTemp"])
	assert.Equal(t, float32(40), motor["MotorTemp"])
	assert.Equal(t, 1.0, counterValue(t, metrics.FramesDecoded))
	assert.Equal(t, 3.0, counterValue(t, metrics.SlotWrites))

	expected, err := c.GetAll()
	require.NoError(t, err)

	// send unknown CAN frame
	p.HandleFrame(can.Frame{ID: 400})
	assert.Equal(t, 1.0, counterValue(t, metrics.FramesIgnored))

	// send too short a frame
	p.HandleFrame(can.Frame{ID: 162, Length: 2})
	assert.Equal(t, 1.0, counterValue(t, metrics.FramesInvalid))

	// no change to data
	all, err := c.GetAll()
	require.NoError(t, err)
	assert.Equal(t, expected, all)
	assert.Equal(t, 3.0, counterValue(t, metrics.FramesReceived))
}

func TestHandleBMSFrame(t *testing.T) {
	p, store, _ := newTestProcessor()
	c := consumer.New(store, consumer.DefaultSpeedConfig())

	before, err := c.GetAll()
	require.NoError(t, err)

	f := can.Frame{ID: 3, Length: 8}
	binary.LittleEndian.PutUint16(f.Data[2:4], 120)
	binary.LittleEndian.PutUint16(f.Data[4:6], 3700)
	for i := 0; i < 20; i++ {
		p.HandleFrame(f)
	}

	after, err := c.GetAll()
	require.NoError(t, err)
	for i := 0; i < int(sensors.BMSStart); i++ {
		name := sensors.Index(i).String()
		assert.Equal(t, before[name], after[name], "%s changed by a BMS frame", name)
	}
	assert.Equal(t, (after["BMSRes1"]+after["BMSRes2"])/2, after["BMSResAvg"])
	assert.Equal(t, (after["BMSOV1"]+after["BMSOV2"])/2, after["BMSOVAvg"])
}

type failingStore struct {
	*shmstore.Memory
}

func (s failingStore) Write(i sensors.Index, v float32) error {
	return errors.New("read-only")
}

func TestHandleFrameWriteError(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	p := NewProcessor(DefaultConfig(), failingStore{shmstore.NewMemory(sensors.Count)}, metrics)
	p.HandleFrame(tempFrame(1, 2, 3))
	assert.Equal(t, 3.0, counterValue(t, metrics.WriteErrors))
	assert.Equal(t, 0.0, counterValue(t, metrics.SlotWrites))
}

func TestRunFatalOpen(t *testing.T) {
	p, _, _ := newTestProcessor()
	r := &retryable{openErr: errors.New("no such device")}
	err := p.Run(context.Background(), r)
	assert.Error(t, err)
	assert.False(t, p.SourceUp())
}

func TestRun(t *testing.T) {
	defer noDelays()()
	origBusConnect := busConnect
	defer func() {
		busConnect = origBusConnect
	}()
	stub := createCANBusStub()
	busConnect = func(ifName string) (CANBus, error) {
		return stub, nil
	}

	p, store, metrics := newTestProcessor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := DefaultConfig()
	src := p.Source(config)
	assert.IsType(t, &busSource{}, src)

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		assert.NoError(t, p.Run(ctx, src))
		wg.Done()
	}()
	<-stub.startChan
	assert.True(t, p.SourceUp())

	f := can.Frame{ID: 165, Length: 8}
	binary.LittleEndian.PutUint16(f.Data[2:4], 3150)
	stub.frameChan <- f
	assert.Eventually(t, func() bool {
		v, _ := store.Read(sensors.MotorSpeed)
		return v == 3150
	}, time.Second, 5*time.Millisecond)

	// a mid-run bus error reconnects instead of stopping the loop
	stub.errChan <- errors.New("bus off")
	<-stub.startChan
	assert.Equal(t, 1.0, counterValue(t, metrics.BusReconnects))

	binary.LittleEndian.PutUint16(f.Data[2:4], 1000)
	stub.frameChan <- f
	assert.Eventually(t, func() bool {
		v, _ := store.Read(sensors.MotorSpeed)
		return v == 1000
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
	assert.False(t, p.SourceUp())
	assert.True(t, p.Queue().Disposed())
}

func TestRunTestMode(t *testing.T) {
	p, store, _ := newTestProcessor()
	config := DefaultConfig()
	config.TestMode = true
	config.TestRateHz = 200
	src := p.Source(config)
	assert.Equal(t, "testmode", src.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		assert.NoError(t, p.Run(ctx, src))
		close(done)
	}()

	c := consumer.New(store, consumer.DefaultSpeedConfig())
	assert.Eventually(t, c.IsValid, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
