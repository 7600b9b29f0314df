package transport

import (
	"fmt"

	"stever/internal/tlwire"
)

var (
	idAdnlMessageQuery  = tlwire.BoxID("adnl.message.query query_id:int256 query:bytes = adnl.Message")
	idAdnlMessageAnswer = tlwire.BoxID("adnl.message.answer query_id:int256 answer:bytes = adnl.Message")
)

// wrapQuery builds the adnl.message.query envelope around a controlQuery
// payload.
func wrapQuery(queryID [32]byte, controlQuery []byte) []byte {
	w := tlwire.NewWriter(idAdnlMessageQuery)
	w.PutFixed(queryID[:])
	w.PutBytes(controlQuery)
	return w.Bytes()
}

// unwrapAnswer parses an inbound adnl.message.answer envelope.
func unwrapAnswer(frame []byte) (queryID [32]byte, data []byte, err error) {
	r := tlwire.NewReader(frame)
	box, err := r.Uint32()
	if err != nil {
		return queryID, nil, err
	}
	if box != idAdnlMessageAnswer {
		return queryID, nil, fmt.Errorf("transport: unexpected box id %x", box)
	}
	idBytes, err := r.Fixed(32)
	if err != nil {
		return queryID, nil, err
	}
	copy(queryID[:], idBytes)
	data, err = r.Bytes()
	return queryID, data, err
}
