package scale

import (
	"fmt"
	"log"
	"strings"

	"go.bug.st/serial"

	"weigh-station-backend/config"
)

// openPort opens and configures the serial port per the scale configuration:
// mode, read timeout and optional forced DTR/RTS. Some RS-232 indicators
// only transmit once the control lines are raised.
func openPort(cfg *config.ScaleConfig) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: cfg.ByteSize,
		Parity:   parityFor(cfg.Parity),
		StopBits: stopBitsFor(cfg.StopBits),
	}

	if cfg.XonXoff || cfg.RTSCTS || cfg.DSRDTR {
		log.Printf("scale: flow control flags are set but not supported by the serial driver; ignoring")
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Device, err)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout()); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Device, err)
	}

	port.ResetInputBuffer()

	// Not all adapters support the control lines; failures are not fatal.
	if cfg.ForceDTR {
		_ = port.SetDTR(true)
	}
	if cfg.ForceRTS {
		_ = port.SetRTS(true)
	}

	return port, nil
}

func parityFor(value string) serial.Parity {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "e", "even":
		return serial.EvenParity
	case "o", "odd":
		return serial.OddParity
	case "m", "mark":
		return serial.MarkParity
	case "s", "space":
		return serial.SpaceParity
	}
	return serial.NoParity
}

func stopBitsFor(value string) serial.StopBits {
	switch strings.TrimSpace(value) {
	case "1.5", "1.5bits":
		return serial.OnePointFiveStopBits
	case "2":
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
