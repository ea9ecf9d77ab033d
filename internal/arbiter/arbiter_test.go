package arbiter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

type recordingSender struct {
	packets [][]byte
}

func (r *recordingSender) SendToAll(packet []byte) {
	r.packets = append(r.packets, append([]byte(nil), packet...))
}

// TestArbiterExclusion verifies a rejected mode sends no packets and a
// matching mode sends exactly one.
func TestArbiterExclusion(t *testing.T) {
	sender := &recordingSender{}
	a := New(sender, nil)

	a.SetMode(types.ModeTestEffect)

	err := a.Send([]byte{0x02, 0, 0, 1}, types.ModeAmbientLight)
	var wrongMode *types.WrongModeError
	require.ErrorAs(t, err, &wrongMode)
	require.Empty(t, sender.packets, "expected zero packets sent")

	a.SetMode(types.ModeAmbientLight)
	require.NoError(t, a.Send([]byte{0x02, 0, 0, 1}, types.ModeAmbientLight))
	require.Len(t, sender.packets, 1)
}

func TestForceSendBypassesMode(t *testing.T) {
	sender := &recordingSender{}
	a := New(sender, nil)
	a.SetMode(types.ModeTestEffect)

	a.ForceSend([]byte{0x02, 0, 0})
	if len(sender.packets) != 1 {
		t.Fatalf("expected ForceSend to bypass mode check, got %d packets", len(sender.packets))
	}
}

func TestOnModeChangeFiresOnTransitionOnly(t *testing.T) {
	a := New(&recordingSender{}, nil)
	var events []ModeChangeEvent
	a.OnModeChange(func(e ModeChangeEvent) { events = append(events, e) })

	a.SetMode(types.ModeAmbientLight)
	a.SetMode(types.ModeAmbientLight) // no-op transition
	a.SetMode(types.ModeTestEffect)

	if len(events) != 2 {
		t.Fatalf("got %d mode-change events, want 2 (no-op transition should not fire)", len(events))
	}
}
