package arc

import (
	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/sugawarayuuta/sonnet"

	"github.com/vkngwrapper/arc/layout"
	"github.com/vkngwrapper/arc/memutils"
)

// Handles encode as their payload. Decoding always builds a new block on the Go heap, releasing
// whatever the handle held before.

var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

func decodeInto[T any](decode func(*T) error) (Arc[T], error) {
	if layout.IsUnsized[T]() {
		var zero T
		return Arc[T]{}, errors.Wrapf(memutils.ErrUnsupportedPayload, "%T cannot be decoded into a handle", zero)
	}

	var value T
	if err := decode(&value); err != nil {
		return Arc[T]{}, err
	}
	return New(value), nil
}

func (a Arc[T]) MarshalJSON() ([]byte, error) {
	return sonnet.Marshal(a.Get())
}

func (a *Arc[T]) UnmarshalJSON(data []byte) error {
	decoded, err := decodeInto(func(v *T) error { return sonnet.Unmarshal(data, v) })
	if err != nil {
		return err
	}
	if a.p != nil {
		a.Release()
	}
	*a = decoded
	return nil
}

func (a Arc[T]) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(a.Get())
}

func (a *Arc[T]) UnmarshalCBOR(data []byte) error {
	decoded, err := decodeInto(func(v *T) error { return cbor.Unmarshal(data, v) })
	if err != nil {
		return err
	}
	if a.p != nil {
		a.Release()
	}
	*a = decoded
	return nil
}

func (o OffsetArc[T]) MarshalJSON() ([]byte, error) {
	return sonnet.Marshal(o.Get())
}

func (o OffsetArc[T]) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(o.Get())
}

func (b ArcBox[T]) MarshalJSON() ([]byte, error) {
	return sonnet.Marshal(b.Get())
}

func (b ArcBox[T]) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(b.Get())
}
