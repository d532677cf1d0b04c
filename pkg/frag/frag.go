// Package frag implements the fragmentation codec: splitting one message
// payload into fragments that fit within a configured per-fragment payload
// budget, each carrying the message's sequence number and a marker byte.
package frag

import (
	"fmt"

	"aeronet/pkg/seq"
	"aeronet/pkg/wire"
)

// Split divides payload into fragments of at most maxPayload bytes each,
// tagged with msgSeq. It returns an error if the resulting fragment count
// would exceed wire.MaxFragmentsPerMessage (127).
func Split(msgSeq seq.MessageSeq, payload []byte, maxPayload int) ([]wire.Fragment, error) {
	if maxPayload <= 0 {
		return nil, fmt.Errorf("frag: maxPayload must be positive, got %d", maxPayload)
	}
	numFrags := 1
	if len(payload) > 0 {
		numFrags = (len(payload) + maxPayload - 1) / maxPayload
	}
	if numFrags > wire.MaxFragmentsPerMessage {
		return nil, fmt.Errorf("frag: message requires %d fragments, exceeds max %d", numFrags, wire.MaxFragmentsPerMessage)
	}

	frags := make([]wire.Fragment, 0, numFrags)
	for i := 0; i < numFrags; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		marker, err := wire.NewMarker(i, i == numFrags-1)
		if err != nil {
			return nil, err
		}
		frags = append(frags, wire.Fragment{
			MsgSeq:  msgSeq,
			Marker:  marker,
			Payload: payload[start:end],
		})
	}
	return frags, nil
}

// NumFragments reports how many fragments Split would produce for a payload
// of length payloadLen given maxPayload, without allocating.
func NumFragments(payloadLen, maxPayload int) int {
	if payloadLen == 0 {
		return 1
	}
	return (payloadLen + maxPayload - 1) / maxPayload
}
