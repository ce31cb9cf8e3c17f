package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"code.hybscloud.com/iox"
	"go.bug.st/serial"
)

// SerialConfig describes a UART. Framing settings live here, not in the protocol.
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits string
	ReadPoll time.Duration
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   "N",
		StopBits: "1",
		ReadPoll: DefaultReadPoll,
	}
}

func ParseParity(raw string) (serial.Parity, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "N", "NONE":
		return serial.NoParity, nil
	case "O", "ODD":
		return serial.OddParity, nil
	case "E", "EVEN":
		return serial.EvenParity, nil
	case "M", "MARK":
		return serial.MarkParity, nil
	case "S", "SPACE":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("%w: parity %q", ErrInvalidSerialConfig, raw)
	}
}

func ParseStopBits(raw string) (serial.StopBits, error) {
	switch strings.TrimSpace(raw) {
	case "", "1":
		return serial.OneStopBit, nil
	case "1.5":
		return serial.OnePointFiveStopBits, nil
	case "2":
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("%w: stop bits %q", ErrInvalidSerialConfig, raw)
	}
}

// Mode validates cfg and converts it to the driver's port mode.
func (c SerialConfig) Mode() (*serial.Mode, error) {
	if strings.TrimSpace(c.Device) == "" {
		return nil, fmt.Errorf("%w: missing device", ErrInvalidSerialConfig)
	}
	if c.BaudRate <= 0 {
		return nil, fmt.Errorf("%w: baud rate %d", ErrInvalidSerialConfig, c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return nil, fmt.Errorf("%w: data bits %d", ErrInvalidSerialConfig, c.DataBits)
	}
	parity, err := ParseParity(c.Parity)
	if err != nil {
		return nil, err
	}
	stop, err := ParseStopBits(c.StopBits)
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   parity,
		StopBits: stop,
	}, nil
}

type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	Close() error
}

// Serial adapts a go.bug.st/serial port to Port. The driver has no write
// timeout, so Write only honors cancellation that happens before it starts.
type Serial struct {
	port   serialPort
	device string
	close  sync.Once
	err    error
}

func OpenSerial(cfg SerialConfig) (*Serial, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Device, err)
	}
	poll := cfg.ReadPoll
	if poll < 0 {
		poll = DefaultReadPoll
	}
	if err := port.SetReadTimeout(poll); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("transport: set read timeout %s: %w", cfg.Device, err)
	}
	return newSerial(port, cfg.Device), nil
}

func newSerial(port serialPort, device string) *Serial {
	return &Serial{port: port, device: device}
}

func (s *Serial) Device() string {
	return s.device
}

func (s *Serial) Read(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.port.Read(buf)
	if err != nil {
		return n, mapSerialErr(err)
	}
	if n == 0 {
		return 0, iox.ErrWouldBlock
	}
	return n, nil
}

func (s *Serial) Write(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return 0, err
	}
	n, err := s.port.Write(buf)
	if err != nil {
		return n, mapSerialErr(err)
	}
	return n, nil
}

// Flush waits until the driver has transmitted everything written so far.
func (s *Serial) Flush(ctx context.Context) error {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return err
	}
	return mapSerialErr(s.port.Drain())
}

func (s *Serial) Close() error {
	s.close.Do(func() {
		s.err = s.port.Close()
	})
	return s.err
}

func mapSerialErr(err error) error {
	if err == nil {
		return nil
	}
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PortClosed {
		return ErrClosed
	}
	return err
}
