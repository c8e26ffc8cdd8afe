package serial

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ampio/lcc-gateway/internal/logging"
	tarmserial "github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens a raw serial port at a fixed baud, no handshake performed.
// Used by tests and by callers that already know the dongle is configured.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &tarmserial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return tarmserial.OpenPort(cfg)
}

// configBaud is the fixed baud rate the dongle's config-mode shell listens
// on before the uart_b command raises it to the link's running rate.
const configBaud = 9600

// canBusBitrateKbps is the CAN bus bit rate LCC runs at; the dongle's "real baud is
// 125" response confirms it accepted the request (it rounds to the nearest
// rate its divider supports).
const canBusBitrateKbps = 125

// commandRetry is how long connect waits between resending a command whose
// expected response has not yet appeared, mirroring the reference driver's
// one-second poll.
const commandRetry = time.Second

// commandSettle is the brief pause after writing a command before the first
// read, giving the dongle's shell time to echo before it is even polled.
const commandSettle = 50 * time.Millisecond

// OpenDongle opens name, drives the Zhou-Ligong USBCAN config-mode
// handshake (DTR-gated can_b/mod/uart_b commands), then reopens the port at
// targetBaud for normal frame traffic. It returns a Port ready for
// Codec.DecodeStream / Codec.Encode use.
func OpenDongle(name string, targetBaud int, timeout time.Duration) (Port, error) {
	cfg := &tarmserial.Config{Name: name, Baud: configBaud, ReadTimeout: 100 * time.Millisecond}
	sp, err := tarmserial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %q for config mode: %w", name, err)
	}

	dtr, err := openDTRLine(name)
	if err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("open DTR control: %w", err)
	}
	defer dtr.Close()

	if err := dtr.Assert(); err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("assert DTR: %w", err)
	}

	sendCommand := func(cmd string, expect string) error {
		deadline := time.Now().Add(timeout)
		for {
			if _, err := sp.Write([]byte(cmd)); err != nil {
				return fmt.Errorf("write %q: %w", cmd, err)
			}
			time.Sleep(commandSettle)
			buf := make([]byte, 256)
			n, _ := sp.Read(buf) // timeout read; zero bytes is not an error here
			resp := buf[:n]
			logging.L().Debug("dongle_response", "command", cmd, "response", string(resp))
			if bytes.Contains(resp, []byte(expect)) {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("dongle did not respond to %q with %q within %s", cmd, expect, timeout)
			}
			time.Sleep(commandRetry)
		}
	}

	if err := sendCommand(fmt.Sprintf("can_b %d\n", canBusBitrateKbps), "real baud is 125"); err != nil {
		_ = sp.Close()
		return nil, err
	}
	if err := sendCommand("mod 1\n", "OK"); err != nil {
		_ = sp.Close()
		return nil, err
	}
	if err := sendCommand(fmt.Sprintf("uart_b %d\n", targetBaud), "OK"); err != nil {
		_ = sp.Close()
		return nil, err
	}

	if err := dtr.Deassert(); err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("deassert DTR: %w", err)
	}

	// tarm/serial cannot reconfigure baud on an already-open port, so the
	// live baud raise the reference driver does in place is done here by
	// closing and reopening at targetBaud.
	if err := sp.Close(); err != nil {
		return nil, fmt.Errorf("close config-mode port: %w", err)
	}

	runCfg := &tarmserial.Config{Name: name, Baud: targetBaud, ReadTimeout: 100 * time.Millisecond}
	runSp, err := tarmserial.OpenPort(runCfg)
	if err != nil {
		return nil, fmt.Errorf("reopen %q at %d baud: %w", name, targetBaud, err)
	}

	// Drain whatever arrived mid-handshake before the application starts
	// decoding frames, same as the reference driver's post-handshake
	// 4096-byte discard read.
	drain := make([]byte, 4096)
	_, _ = runSp.Read(drain)

	return runSp, nil
}
