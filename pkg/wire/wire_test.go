package wire

import "testing"

func TestEncodeDecodeLEDWrite(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	pkt, err := EncodeLEDWrite(300, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if pkt[0] != OpLEDWrite {
		t.Fatalf("opcode = %#x, want %#x", pkt[0], OpLEDWrite)
	}

	offset, got, err := DecodeLEDWrite(pkt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if offset != 300 {
		t.Fatalf("offset = %d, want 300", offset)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload = %v, want %v", got, payload)
	}
}

func TestEncodeLEDWriteRejectsOutOfRangeOffset(t *testing.T) {
	if _, err := EncodeLEDWrite(-1, nil); err == nil {
		t.Fatal("expected error for negative offset")
	}
	if _, err := EncodeLEDWrite(MaxOffset+1, nil); err == nil {
		t.Fatal("expected error for offset beyond 16 bits")
	}
}

func TestIsPong(t *testing.T) {
	if !IsPong(PingPacket()) {
		t.Fatal("PingPacket should also satisfy IsPong (both directions use the same byte)")
	}
	if IsPong([]byte{0x02}) {
		t.Fatal("unexpected pong match")
	}
}
