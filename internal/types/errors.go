package types

import (
	"errors"
	"fmt"
)

// Sentinel error kinds from spec.md §7. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers can still errors.Is/errors.As
// against the kind.
var (
	ErrConfigParse       = errors.New("config parse error")
	ErrConfigWrite       = errors.New("config write error")
	ErrOverflow          = errors.New("strip length out of bounds")
	ErrDisplayNotFound   = errors.New("display not found")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrCaptureFailed     = errors.New("capture failed")
	ErrMdnsFailed        = errors.New("mdns discovery failed")
)

// WrongModeError is returned when a producer attempts to send while the
// Arbiter is in a different mode (spec §4.5).
type WrongModeError struct {
	Current  TransportMode
	Expected TransportMode
}

func (e *WrongModeError) Error() string {
	return fmt.Sprintf("wrong mode: current=%s expected=%s", e.Current, e.Expected)
}

// Is lets errors.Is(err, &WrongModeError{}) succeed without comparing
// the Current/Expected payload, mirroring how the teacher's websocket
// client compares against sentinel close codes.
func (e *WrongModeError) Is(target error) bool {
	_, ok := target.(*WrongModeError)
	return ok
}
