package arc_test

import (
	"testing"

	cerrors "github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"
	"github.com/vkngwrapper/arc/arc"
	"github.com/vkngwrapper/arc/memutils"
)

type point struct {
	X int
	Y int
}

type scene struct {
	Name   string
	Origin arc.Arc[point]
}

func TestJSONRoundTrip(t *testing.T) {
	s := scene{Name: "a", Origin: arc.New(point{X: 1, Y: 2})}

	data, err := sonnet.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, `{"Name":"a","Origin":{"X":1,"Y":2}}`, string(data))

	var decoded scene
	require.NoError(t, sonnet.Unmarshal(data, &decoded))
	require.Equal(t, "a", decoded.Name)
	require.Equal(t, point{X: 1, Y: 2}, *decoded.Origin.Get())
	require.False(t, decoded.Origin.PtrEq(s.Origin))
	require.Equal(t, int64(1), decoded.Origin.Count())

	s.Origin.Release()
	decoded.Origin.Release()
}

func TestJSONUnmarshalReplaces(t *testing.T) {
	allocator := checked(t)

	a, err := arc.NewIn(allocator, point{X: 5})
	require.NoError(t, err)

	require.NoError(t, a.UnmarshalJSON([]byte(`{"X":6,"Y":7}`)))
	require.Equal(t, point{X: 6, Y: 7}, *a.Get())
	allocator.AssertNoLeaks(t)

	require.Error(t, a.UnmarshalJSON([]byte(`{"X":`)))
	require.Equal(t, point{X: 6, Y: 7}, *a.Get())
	a.Release()
}

func TestCBORRoundTrip(t *testing.T) {
	a := arc.New(point{X: 3, Y: 4})

	data, err := cbor.Marshal(a)
	require.NoError(t, err)

	var b arc.Arc[point]
	require.NoError(t, cbor.Unmarshal(data, &b))
	require.Equal(t, point{X: 3, Y: 4}, *b.Get())

	box := arc.NewBox(point{X: 3, Y: 4})
	boxData, err := cbor.Marshal(box)
	require.NoError(t, err)
	require.Equal(t, data, boxData)

	a.Release()
	b.Release()
	box.Release()
}

func TestHeaderSliceEncoding(t *testing.T) {
	a := arc.FromSlice(meshHeader{Name: "tri"}, []uint16{1, 2, 3})

	data, err := sonnet.Marshal(a)
	require.NoError(t, err)
	require.JSONEq(t, `{"header":{"Name":"tri"},"elems":[1,2,3]}`, string(data))

	empty := arc.FromSlice(meshHeader{}, []uint16(nil))
	data, err = sonnet.Marshal(empty)
	require.NoError(t, err)
	require.JSONEq(t, `{"header":{"Name":""},"elems":[]}`, string(data))

	var decoded arc.Arc[arc.HeaderSlice[meshHeader, uint16]]
	err = decoded.UnmarshalJSON([]byte(`{"header":{"Name":"x"},"elems":[]}`))
	require.True(t, cerrors.Is(err, memutils.ErrUnsupportedPayload))

	a.Release()
	empty.Release()
}
