//go:build !linux

package serial

// dtrLine is a no-op on platforms without the Linux TIOCMBIS/TIOCMBIC
// ioctls (e.g. darwin, windows dev hosts). Callers fall back to whatever
// DTR state the OS leaves the line in; the dongle handshake commands
// still run, just without the config-mode gate the real hardware expects.
type dtrLine struct{}

func openDTRLine(path string) (*dtrLine, error) { return &dtrLine{}, nil }

func (d *dtrLine) Assert() error   { return nil }
func (d *dtrLine) Deassert() error { return nil }
func (d *dtrLine) Close() error    { return nil }
