package ethat

import "errors"

// Command argument errors.
var (
	ErrArgCount           = errors.New("ethat: wrong number of arguments")
	ErrStoreFlag          = errors.New("ethat: store flag must be 0, 1 or 2")
	ErrMissingAddr        = errors.New("ethat: missing IP address")
	ErrMalformedAddr      = errors.New("ethat: malformed IPv4 address")
	ErrGatewayNetmaskPair = errors.New("ethat: gateway and netmask must be absent or present together")
	ErrInvalidBool        = errors.New("ethat: flag must be 0 or 1")
	ErrInvalidSpeed       = errors.New("ethat: speed must be 10, 100 or 1000")
	ErrInvalidGroup       = errors.New("ethat: pin group must be 0..3")
)

// State errors.
var (
	ErrNoInterface   = errors.New("ethat: Ethernet not initialized")
	ErrPinConflict   = errors.New("ethat: pin group 3 conflicts with AT UART pins (PA25/PA26)")
	ErrNoGPIO        = errors.New("ethat: no GPIO configured for PHY reset")
	errMissingConfig = errors.New("ethat: MAC, pin muxer, network stack and store are required")
)

func errjoin(errs ...error) error {
	return errors.Join(errs...)
}
