package arc

import (
	"fmt"

	"github.com/vkngwrapper/arc/layout"
)

func payloadValue[T any](payload *T) any {
	if layout.IsUnsized[T]() {
		return payload
	}
	return *payload
}

func formatPayload(f fmt.State, verb rune, value any) {
	fmt.Fprintf(f, fmt.FormatString(f, verb), value)
}

// Format prints the payload with the given verb and flags
func (a Arc[T]) Format(f fmt.State, verb rune) {
	formatPayload(f, verb, payloadValue(a.Get()))
}

// Format prints the payload with the given verb and flags
func (o OffsetArc[T]) Format(f fmt.State, verb rune) {
	formatPayload(f, verb, payloadValue(o.Get()))
}

// Format prints the payload with the given verb and flags
func (b ArcBox[T]) Format(f fmt.State, verb rune) {
	formatPayload(f, verb, payloadValue(b.Get()))
}
