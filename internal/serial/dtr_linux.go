//go:build linux

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// dtrLine opens a second raw file descriptor onto the dongle's tty purely to
// twiddle the DTR modem-control line via TIOCMBIS/TIOCMBIC; tarm/serial's
// Config has no such knob. Mirrors internal/socketcan.Device's raw-fd style.
type dtrLine struct {
	fd int
}

func openDTRLine(path string) (*dtrLine, error) {
	fd, err := unix.Open(path, unix.O_NOCTTY|unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %q for DTR control: %w", path, err)
	}
	return &dtrLine{fd: fd}, nil
}

func (d *dtrLine) Assert() error {
	return unix.IoctlSetPointerInt(d.fd, unix.TIOCMBIS, unix.TIOCM_DTR)
}

func (d *dtrLine) Deassert() error {
	return unix.IoctlSetPointerInt(d.fd, unix.TIOCMBIC, unix.TIOCM_DTR)
}

func (d *dtrLine) Close() error {
	return unix.Close(d.fd)
}
