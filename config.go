package racetelem

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultSegmentName = "mem123"
	DefaultInterface   = "vcan0"
)

type Config struct {
	// SocketCAN interface the writer listens on
	Interface   string
	SegmentName string

	// frames buffered between the bus and the decode loop
	QueueSize uint64
	// how long one loop iteration waits for a frame before checking for shutdown
	PollInterval time.Duration

	// address for /metrics, /live and /ready; empty disables it
	AdminAddr string
	LogLevel  string

	// generate synthetic frames instead of reading the bus
	TestMode   bool
	TestRateHz int
}

func DefaultConfig() *Config {
	return &Config{
		Interface:    DefaultInterface,
		SegmentName:  DefaultSegmentName,
		QueueSize:    1024,
		PollInterval: 100 * time.Millisecond,
		LogLevel:     "info",
		TestRateHz:   50,
	}
}

// LoadConfig reads a TOML file. Relative names are resolved against the
// directory holding the binary.
func LoadConfig(fileName string) (*Config, error) {
	if !filepath.IsAbs(fileName) {
		dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to determine binary location")
		}
		fileName = filepath.Join(dir, fileName)
	}
	file, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader decodes TOML on top of DefaultConfig.
func LoadConfigFromReader(configReader io.Reader) (*Config, error) {
	configData, err := ioutil.ReadAll(configReader)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config reader")
	}
	config := DefaultConfig()
	if _, err := toml.Decode(string(configData), config); err != nil {
		return nil, errors.Wrapf(err, "unable to load configuration")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch {
	case c.SegmentName == "":
		return errors.New("SegmentName must not be empty")
	case c.QueueSize == 0:
		return errors.New("QueueSize must be positive")
	case c.PollInterval <= 0:
		return errors.Errorf("PollInterval must be positive, got %v", c.PollInterval)
	case c.TestMode && c.TestRateHz <= 0:
		return errors.Errorf("TestRateHz must be positive, got %d", c.TestRateHz)
	case !c.TestMode && c.Interface == "":
		return errors.New("Interface must not be empty")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid LogLevel")
	}
	return nil
}

// Level is the parsed LogLevel.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
