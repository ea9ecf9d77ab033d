package devicereg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

type scriptedDialer struct {
	reachable bool
	sent      [][]byte
}

func (s *scriptedDialer) Ping(ctx context.Context, addr string, port int) (time.Duration, error) {
	if s.reachable {
		return 5 * time.Millisecond, nil
	}
	return 0, errors.New("unreachable")
}

func (s *scriptedDialer) Send(addr string, port int, packet []byte) {
	s.sent = append(s.sent, append([]byte(nil), packet...))
}

// TestDeviceLiveness checks a device that is reachable on first ping,
// then ten failed cycles walk Connecting(1..10) (each still observable),
// an eleventh failure then lands on Disconnected, and a successful pong
// returns directly to Connected with retry reset.
func TestDeviceLiveness(t *testing.T) {
	dial := &scriptedDialer{reachable: true}
	reg := New(nil)
	reg.dial = dial

	reg.Register("dev1", "10.0.0.5", 4321)
	d := reg.Snapshot()[0]

	reg.probeOne(context.Background(), d)
	got := reg.Snapshot()[0]
	if got.Status != types.DeviceConnected {
		t.Fatalf("status = %v, want Connected", got.Status)
	}
	if got.RTT <= 0 {
		t.Fatalf("expected RTT recorded, got %v", got.RTT)
	}

	dial.reachable = false
	for i := 1; i <= types.MaxConnectRetries; i++ {
		d = reg.Snapshot()[0]
		reg.probeOne(context.Background(), d)
		got = reg.Snapshot()[0]
		if got.Status != types.DeviceConnecting {
			t.Fatalf("cycle %d: status = %v, want Connecting", i, got.Status)
		}
		if got.RetryCount != i {
			t.Fatalf("cycle %d: retry count = %d, want %d", i, got.RetryCount, i)
		}
	}

	// The eleventh consecutive failure, while already Connecting(10),
	// is what crosses over to Disconnected.
	d = reg.Snapshot()[0]
	reg.probeOne(context.Background(), d)
	got = reg.Snapshot()[0]
	if got.Status != types.DeviceDisconnected {
		t.Fatalf("status after %d failures = %v, want Disconnected", types.MaxConnectRetries+1, got.Status)
	}

	dial.reachable = true
	d = reg.Snapshot()[0]
	reg.probeOne(context.Background(), d)
	got = reg.Snapshot()[0]
	if got.Status != types.DeviceConnected {
		t.Fatalf("status after recovery = %v, want Connected", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("retry count after recovery = %d, want 0", got.RetryCount)
	}
}

func TestSendToAllOnlyTargetsConnected(t *testing.T) {
	dial := &scriptedDialer{reachable: true}
	reg := New(nil)
	reg.dial = dial

	reg.Register("connected", "10.0.0.1", 1)
	reg.Register("disconnected", "10.0.0.2", 2)

	all := reg.Snapshot()
	for i := range all {
		if all[i].Address == "10.0.0.2" {
			reg.mu.Lock()
			d := reg.devices[all[i].key()]
			d.Status = types.DeviceDisconnected
			reg.devices[all[i].key()] = d
			reg.mu.Unlock()
		} else {
			reg.mu.Lock()
			d := reg.devices[all[i].key()]
			d.Status = types.DeviceConnected
			reg.devices[all[i].key()] = d
			reg.mu.Unlock()
		}
	}

	reg.SendToAll([]byte{0x02, 0, 0, 1})
	if len(dial.sent) != 1 {
		t.Fatalf("expected exactly one packet sent (to the Connected device), got %d", len(dial.sent))
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := New(nil)
	reg.Register("dev1", "10.0.0.5", 4321)
	reg.Register("dev1", "10.0.0.5", 4321)
	if len(reg.Snapshot()) != 1 {
		t.Fatalf("expected a single registered device, got %d", len(reg.Snapshot()))
	}
}
