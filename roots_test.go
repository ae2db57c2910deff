package gc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootRegistryRegisterAddress(t *testing.T) {
	var r rootRegistry
	var addr SlotRef = 42
	r.RegisterAddress(&addr)

	var marked []SlotRef
	r.Enumerate(func(ref SlotRef) { marked = append(marked, ref) })
	require.Equal(t, []SlotRef{42}, marked)

	addr = 99
	marked = nil
	r.Enumerate(func(ref SlotRef) { marked = append(marked, ref) })
	require.Equal(t, []SlotRef{99}, marked, "registered address roots must be re-read every cycle")
}

func TestRootRegistryUnregisterAddress(t *testing.T) {
	var r rootRegistry
	var a, b SlotRef = 1, 2
	r.RegisterAddress(&a)
	r.RegisterAddress(&b)
	r.UnregisterAddress(&a)

	var marked []SlotRef
	r.Enumerate(func(ref SlotRef) { marked = append(marked, ref) })
	require.Equal(t, []SlotRef{2}, marked)
}

func TestRootRegistryPinAndUnpin(t *testing.T) {
	var r rootRegistry
	r.Pin(10)
	r.Pin(20)

	var marked []SlotRef
	r.Enumerate(func(ref SlotRef) { marked = append(marked, ref) })
	require.ElementsMatch(t, []SlotRef{10, 20}, marked)

	r.Unpin(10)
	marked = nil
	r.Enumerate(func(ref SlotRef) { marked = append(marked, ref) })
	require.Equal(t, []SlotRef{20}, marked)
}

func TestRootRegistrySkipsZeroAddresses(t *testing.T) {
	var r rootRegistry
	var zero SlotRef
	r.RegisterAddress(&zero)
	r.Pin(0)

	called := false
	r.Enumerate(func(ref SlotRef) { called = true })
	require.False(t, called, "a zero SlotRef must never be treated as a root")
}
