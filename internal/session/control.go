package session

import (
	"fmt"
	"io"
	"net"
	"time"
)

// EndToken tells the capture daemon to stop acquiring and flush its output.
const EndToken = "END"

// Dialer opens the capture daemon's control channel.
type Dialer interface {
	Dial() (io.WriteCloser, error)
	Address() string
}

// UnixDialer connects to a Unix domain socket.
type UnixDialer struct {
	Path    string
	Timeout time.Duration // Per-attempt dial timeout
}

// Dial opens one connection attempt.
func (d UnixDialer) Dial() (io.WriteCloser, error) {
	return net.DialTimeout("unix", d.Path, d.Timeout)
}

// Address returns the socket path.
func (d UnixDialer) Address() string {
	return d.Path
}

// ConnectWithRetry dials every interval until a connection succeeds. The
// last attempt is made once timeout has elapsed since the first; if it
// fails too the result is a *ConnectionTimeoutError.
func ConnectWithRetry(d Dialer, interval, timeout time.Duration) (io.WriteCloser, error) {
	deadline := time.Now().Add(timeout)
	attempts := 0
	for {
		attempts++
		conn, err := d.Dial()
		if err == nil {
			return conn, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &ConnectionTimeoutError{
				Address:  d.Address(),
				Timeout:  timeout,
				Attempts: attempts,
				Err:      err,
			}
		}
		// The last wait is cut short so the final attempt lands on the deadline.
		if remaining < interval {
			time.Sleep(remaining)
		} else {
			time.Sleep(interval)
		}
	}
}

// SendEnd writes the end token to the control channel.
func SendEnd(w io.Writer) error {
	n, err := io.WriteString(w, EndToken)
	if err != nil {
		return fmt.Errorf("write end token: %w", err)
	}
	if n != len(EndToken) {
		return fmt.Errorf("write end token: %w", io.ErrShortWrite)
	}
	return nil
}
