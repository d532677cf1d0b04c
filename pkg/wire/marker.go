package wire

import "fmt"

// MaxFragmentIndex is the largest legal fragment index (127 fragments max,
// indices 0..126).
const MaxFragmentIndex = 126

// MaxFragmentsPerMessage is the hard ceiling on fragments in one message.
const MaxFragmentsPerMessage = MaxFragmentIndex + 1

// Marker is a single byte: low 7 bits are the fragment index (0..126), the
// high bit is set iff this is the last fragment of the message.
type Marker byte

// NewMarker builds a Marker from a fragment index and a last-fragment flag.
// It returns an error if index exceeds MaxFragmentIndex.
func NewMarker(index int, last bool) (Marker, error) {
	if index < 0 || index > MaxFragmentIndex {
		return 0, fmt.Errorf("wire: fragment index %d exceeds max %d", index, MaxFragmentIndex)
	}
	m := byte(index)
	if last {
		m |= 0x80
	}
	return Marker(m), nil
}

// Index returns the fragment index encoded in the marker.
func (m Marker) Index() int { return int(m & 0x7f) }

// Last reports whether this marker denotes the final fragment of a message.
func (m Marker) Last() bool { return m&0x80 != 0 }

// Validate rejects markers whose index exceeds MaxFragmentIndex (the high
// bit never makes an index itself invalid, it only flags "last").
func (m Marker) Validate() error {
	if int(m&0x7f) > MaxFragmentIndex {
		return fmt.Errorf("wire: fragment marker index %d exceeds max %d", m&0x7f, MaxFragmentIndex)
	}
	return nil
}
