package transport

import (
	"errors"
	"io"
)

var (
	// ErrPortUnavailable is returned when a port cannot be opened
	ErrPortUnavailable = errors.New("port unavailable")

	// ErrPortClosed is returned by Read and Write once the port has been closed
	ErrPortClosed = errors.New("port closed")
)

// Port is an open, bidirectional byte channel to the rig controller.
// Read blocks for at most the transport's read timeout and may return 0, nil.
type Port interface {
	io.ReadWriteCloser
}

// Transport enumerates and opens ports
type Transport interface {
	// Ports lists identifiers accepted by Open
	Ports() ([]string, error)

	// Open opens portID at the given baud rate
	Open(portID string, baudRate int) (Port, error)
}
