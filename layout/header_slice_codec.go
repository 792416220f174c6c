package layout

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/sugawarayuuta/sonnet"
)

type headerSliceView[H any, E any] struct {
	Header H   `json:"header" cbor:"header"`
	Elems  []E `json:"elems" cbor:"elems"`
}

func (s *HeaderSlice[H, E]) view() headerSliceView[H, E] {
	elems := s.Slice()
	if elems == nil {
		elems = []E{}
	}
	return headerSliceView[H, E]{Header: s.header, Elems: elems}
}

// MarshalJSON encodes the slice as an object with "header" and "elems" keys
func (s *HeaderSlice[H, E]) MarshalJSON() ([]byte, error) {
	return sonnet.Marshal(s.view())
}

// MarshalCBOR encodes the slice as a map with "header" and "elems" keys
func (s *HeaderSlice[H, E]) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(s.view())
}

func (s *HeaderSlice[H, E]) String() string {
	return fmt.Sprintf("{%v %v}", s.header, s.Slice())
}
