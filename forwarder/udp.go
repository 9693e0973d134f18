// Package forwarder ships sensor snapshots to a pit server over UDP.
package forwarder

import (
	"context"
	"encoding/binary"
	"fmt"
	"github.com/BurntSushi/toml"
	"github.com/jd3nn1s/racetelem/sensors"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"
	"io"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unsafe"
)

// Header precedes the slot values in every packet. Count is the number of
// float32 values that follow.
type Header struct {
	Type  uint8
	Count uint8
}

const (
	TypeSnapshot = 1
)

var maxPacketSize = int(unsafe.Sizeof(Header{})) + sensors.StoreSize()

const defaultInterval = 100 * time.Millisecond

type UDPConfig struct {
	Server string
	Port   int
	// minimum time between packets
	Interval time.Duration
}

type UDPForwarder struct {
	Config *UDPConfig

	conn    net.Conn
	fwdChan chan []float32
	pool    bytebufferpool.Pool
	closeMu sync.Mutex
}

func NewUDPForwarder(fileName string) (*UDPForwarder, error) {
	dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to determine binary location")
	}
	if filepath.IsAbs(fileName) {
		dir = ""
	}
	file, err := os.Open(filepath.Join(dir, fileName))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	defer file.Close()
	return NewUDPForwarderFromReader(file)
}

func NewUDPForwarderFromReader(configReader io.Reader) (*UDPForwarder, error) {
	configData, err := ioutil.ReadAll(configReader)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config reader")
	}
	config := UDPConfig{
		Interval: defaultInterval,
	}
	if _, err := toml.Decode(string(configData), &config); err != nil {
		return nil, errors.Wrapf(err, "unable to load udp forwarder configuration")
	}
	if config.Interval <= 0 {
		return nil, errors.Errorf("Interval must be positive, got %v", config.Interval)
	}
	udp := &UDPForwarder{
		Config:  &config,
		fwdChan: make(chan []float32, 1),
	}
	if err = udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) Close() error {
	udp.closeMu.Lock()
	defer udp.closeMu.Unlock()
	if udp.conn == nil {
		return nil
	}
	err := udp.conn.Close()
	udp.conn = nil
	return err
}

// Forward queues a snapshot for sending. If a snapshot is already waiting
// this one is skipped.
func (udp *UDPForwarder) Forward(snapshot []float32) error {
	if len(snapshot) > sensors.Count {
		return errors.Errorf("snapshot has %d values, at most %d fit in a packet", len(snapshot), sensors.Count)
	}
	// copy as we're sending it on another go-routine
	snapCopy := make([]float32, len(snapshot))
	copy(snapCopy, snapshot)
	select {
	case udp.fwdChan <- snapCopy:
	default:
	}
	return nil
}

func (udp *UDPForwarder) Start(ctx context.Context) error {
	limiter := time.NewTicker(udp.Config.Interval)
	defer limiter.Stop()
	for {
		select {
		case <-limiter.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case s := <-udp.fwdChan:
			if err := udp.forward(s); err != nil {
				log.WithField("err", err).Error("unable to forward snapshot to server")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (udp *UDPForwarder) forward(snapshot []float32) error {
	buf := udp.pool.Get()
	defer udp.pool.Put(buf)

	if err := encode(buf, snapshot); err != nil {
		return err
	}
	udp.closeMu.Lock()
	defer udp.closeMu.Unlock()
	if udp.conn == nil {
		return errors.New("forwarder is closed")
	}
	_, err := udp.conn.Write(buf.B)
	return errors.Wrap(err, "unable to send udp packet")
}

func encode(w io.Writer, snapshot []float32) error {
	hdr := Header{
		Type:  TypeSnapshot,
		Count: uint8(len(snapshot)),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "unable to write udp packet header")
	}
	if err := binary.Write(w, binary.LittleEndian, snapshot); err != nil {
		return errors.Wrap(err, "unable to write snapshot udp packet")
	}
	return nil
}

func (udp *UDPForwarder) connect() error {
	writeBufSize := maxPacketSize * 2

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return err
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		conn.Close()
		return errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	udp.conn = conn
	return nil
}
