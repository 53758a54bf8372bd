package serialtelnet

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Local is the serial side of a Bridge. None of its methods may block.
type Local interface {
	WriteByte(c byte) error
	Available() int
	ReadByte() (byte, error)
	PeekByte() (byte, error)
}

const defaultSerialRxBuffer = 4096

// SerialConfig holds configuration parameters for opening a serial port.
type SerialConfig struct {
	Device       string
	BaudRate     int
	RxBufferSize int // bytes held until read, default 4096
}

// SerialPort is a raw Linux serial port usable as the Local side of a
// Bridge. A background goroutine moves received bytes into a ring buffer
// so the Local methods never wait for the device; bytes arriving while that
// buffer is full are dropped.
type SerialPort struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	config    SerialConfig
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
	rx        *RingBuffer

	errMu sync.Mutex
	err   error
}

// OpenSerial opens and configures a serial port for raw, low-latency
// operation and starts receiving.
func OpenSerial(cfg SerialConfig) (*SerialPort, error) {
	if cfg.RxBufferSize <= 0 {
		cfg.RxBufferSize = defaultSerialRxBuffer
	}
	rx, err := NewRingBuffer(cfg.RxBufferSize)
	if err != nil {
		return nil, err
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}
	if err := configureRaw(fd, cfg.BaudRate); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	s := &SerialPort{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
		rx:     rx,
	}
	s.wg.Add(1)
	go s.receive()
	return s, nil
}

func configureRaw(fd int, baudRate int) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baudToUnix(baudRate)

	// VMIN=1, VTIME=0: a read returns as soon as one byte is there
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}

	// Back to blocking mode; the receiver waits in poll instead
	if err := syscall.SetNonblock(fd, false); err != nil {
		return fmt.Errorf("set blocking: %w", err)
	}
	return nil
}

// receive polls the device and the self-pipe and moves received bytes
// into the rx buffer until Close or a read error.
func (s *SerialPort) receive() {
	defer s.wg.Done()
	buf := make([]byte, 4096)
	for {
		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(pfd, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.fail(err)
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			return
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := s.file.Read(buf)
			for _, c := range buf[:n] {
				s.rx.TryPush(c)
			}
			if err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *SerialPort) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// Err returns the error that stopped the receiver, nil while it runs.
func (s *SerialPort) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// WriteByte sends c to the device.
func (s *SerialPort) WriteByte(c byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	_, err := s.file.Write([]byte{c})
	return err
}

// Write sends p to the device.
func (s *SerialPort) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, ErrClosed
	default:
	}
	return s.file.Write(p)
}

// Available returns the number of received bytes waiting to be read.
func (s *SerialPort) Available() int { return s.rx.Len() }

// ReadByte returns the next received byte or ErrEmpty.
func (s *SerialPort) ReadByte() (byte, error) { return s.rx.Pop() }

// PeekByte returns the next received byte without consuming it.
func (s *SerialPort) PeekByte() (byte, error) { return s.rx.Peek() }

// Close stops the receiver and closes the device.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *SerialPort) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		// Wake up poll using self-pipe
		_, _ = unix.Write(s.pipeW, []byte{1})
		s.wg.Wait()
		err = multierr.Combine(
			s.file.Close(),
			unix.Close(s.pipeR),
			unix.Close(s.pipeW),
		)
	})
	return err
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 1200:
		return unix.B1200
	case 2400:
		return unix.B2400
	case 4800:
		return unix.B4800
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	case 460800:
		return unix.B460800
	case 921600:
		return unix.B921600
	default:
		return unix.B115200 // fallback
	}
}
