package frag

import (
	"bytes"
	"testing"

	"aeronet/pkg/wire"
)

func TestSplitBasic(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 25)
	frags, err := Split(1, payload, 10)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("got %d fragments, want 3", len(frags))
	}
	for i, f := range frags {
		if f.Marker.Index() != i {
			t.Errorf("fragment %d has index %d", i, f.Marker.Index())
		}
		wantLast := i == len(frags)-1
		if f.Marker.Last() != wantLast {
			t.Errorf("fragment %d last=%v, want %v", i, f.Marker.Last(), wantLast)
		}
	}
	reassembled := append(append([]byte{}, frags[0].Payload...), frags[1].Payload...)
	reassembled = append(reassembled, frags[2].Payload...)
	if !bytes.Equal(reassembled, payload) {
		t.Error("reassembled payload does not match original")
	}
}

func TestSplitEmptyPayload(t *testing.T) {
	frags, err := Split(1, nil, 10)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if !frags[0].Marker.Last() || frags[0].Marker.Index() != 0 {
		t.Errorf("expected single last fragment at index 0, got %+v", frags[0].Marker)
	}
	if len(frags[0].Payload) != 0 {
		t.Errorf("expected empty payload fragment")
	}
}

func TestSplitExactly127Succeeds(t *testing.T) {
	payload := make([]byte, wire.MaxFragmentsPerMessage*10)
	frags, err := Split(1, payload, 10)
	if err != nil {
		t.Fatalf("127 fragments should succeed: %v", err)
	}
	if len(frags) != wire.MaxFragmentsPerMessage {
		t.Fatalf("got %d fragments, want %d", len(frags), wire.MaxFragmentsPerMessage)
	}
}

func TestSplit128FragmentsFails(t *testing.T) {
	payload := make([]byte, (wire.MaxFragmentsPerMessage+1)*10)
	_, err := Split(1, payload, 10)
	if err == nil {
		t.Fatal("expected error for 128-fragment message")
	}
}

func TestNumFragments(t *testing.T) {
	cases := []struct {
		payloadLen, maxPayload, want int
	}{
		{0, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{100, 10, 10},
	}
	for _, c := range cases {
		if got := NumFragments(c.payloadLen, c.maxPayload); got != c.want {
			t.Errorf("NumFragments(%d,%d) = %d, want %d", c.payloadLen, c.maxPayload, got, c.want)
		}
	}
}
