package transport

import (
	"time"

	"github.com/nilsby/godlms/base"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialSettings configures a physical serial port, grounded on
// directserial/directserial.go's SetSpeed/SetFlowControl knobs, narrowed
// to the fields go.bug.st/serial actually negotiates with the OS driver.
type SerialSettings struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
	Timeout  time.Duration
}

type serialPort struct {
	settings SerialSettings
	logger   *zap.SugaredLogger
	port     serial.Port
	open     bool
	deadline time.Time
}

// NewSerial builds a base.Stream over a physical serial port, grounded
// on directserial/directserial.go for shape; unlike the teacher's
// directSerial (which decorates an already-open base.Stream and ignores
// every speed/parity knob), this opens the named OS serial device
// directly with go.bug.st/serial.
func NewSerial(settings SerialSettings) base.Stream {
	return &serialPort{settings: settings}
}

func (s *serialPort) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Infof(format, v...)
	}
}

func (s *serialPort) Open() error {
	if s.open {
		return nil
	}
	mode := &serial.Mode{
		BaudRate: s.settings.BaudRate,
		DataBits: s.settings.DataBits,
		Parity:   s.settings.Parity,
		StopBits: s.settings.StopBits,
	}
	port, err := serial.Open(s.settings.Port, mode)
	if err != nil {
		return err
	}
	if s.settings.Timeout > 0 {
		if err := port.SetReadTimeout(s.settings.Timeout); err != nil {
			_ = port.Close()
			return err
		}
	}
	s.port = port
	s.open = true
	s.logf("opened serial port %s at %d baud", s.settings.Port, s.settings.BaudRate)
	return nil
}

func (s *serialPort) Close() error {
	if !s.open {
		return nil
	}
	s.open = false
	return s.port.Close()
}

func (s *serialPort) Disconnect() error {
	return s.Close()
}

func (s *serialPort) IsOpen() bool {
	return s.open
}

func (s *serialPort) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

func (s *serialPort) SetDeadline(t time.Time) {
	s.deadline = t
	if s.open && !t.IsZero() {
		if d := time.Until(t); d > 0 {
			_ = s.port.SetReadTimeout(d)
		}
	}
}

func (s *serialPort) SetMaxReceivedBytes(int64) {
	// a physical serial link has no application-level framing to bound;
	// the HDLC/Wrapper layer above already enforces its own message size.
}

func (s *serialPort) Write(src []byte) error {
	if !s.open {
		return base.ErrNotOpened
	}
	for len(src) > 0 {
		n, err := s.port.Write(src)
		if err != nil {
			return err
		}
		src = src[n:]
	}
	return nil
}

func (s *serialPort) Read(p []byte) (int, error) {
	if !s.open {
		return 0, base.ErrNotOpened
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}
	n, err := s.port.Read(p)
	if n == 0 && err == nil {
		return 0, base.ErrCommunicationTimeout
	}
	return n, err
}
