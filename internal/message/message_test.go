package message

import (
	"testing"

	"stever/internal/tlwire"
)

func TestExternalInHashIsDeterministicAndSensitiveToBody(t *testing.T) {
	dst := Address{Workchain: 0, Account: [32]byte{1}}
	a := ExternalIn{Dst: dst, Body: []byte("a")}
	b := ExternalIn{Dst: dst, Body: []byte("a")}
	c := ExternalIn{Dst: dst, Body: []byte("b")}

	if a.Hash() != b.Hash() {
		t.Fatalf("identical messages must hash identically")
	}
	if a.Hash() == c.Hash() {
		t.Fatalf("messages with different bodies must hash differently")
	}
}

func TestInternalHashDistinguishesDestination(t *testing.T) {
	a := Internal{Dst: Address{Workchain: 0, Account: [32]byte{1}}, Value: 1}
	b := Internal{Dst: Address{Workchain: 0, Account: [32]byte{2}}, Value: 1}

	if a.Hash() == b.Hash() {
		t.Fatalf("messages to different destinations must hash differently")
	}
}

func TestExternalInEncodeStartsWithBoxID(t *testing.T) {
	m := ExternalIn{
		Dst:       Address{Workchain: 0, Account: [32]byte{9}},
		StateInit: []byte{1, 2, 3},
		Body:      []byte("deploy"),
	}
	raw := m.Encode()
	if len(raw) < 4 {
		t.Fatalf("encoded message too short: %d bytes", len(raw))
	}
	box, err := tlwire.NewReader(raw).Uint32()
	if err != nil || box != idExternalIn {
		t.Fatalf("encoded message does not start with the extInMsg box id: err=%v got=%x", err, box)
	}
}

func TestAddressStringParseRoundTrips(t *testing.T) {
	want := Address{Workchain: -1, Account: [32]byte{0x33, 0x01, 0xff}}
	got, err := ParseAddress(want.String())
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestParseAddressRejectsMalformedInput(t *testing.T) {
	cases := []string{"", "0", "0:short", "notanumber:" + string(make([]byte, 64))}
	for _, c := range cases {
		if _, err := ParseAddress(c); err == nil {
			t.Fatalf("ParseAddress(%q): expected error, got nil", c)
		}
	}
}
