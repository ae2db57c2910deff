package gc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	require.Equal(t, "Object", KindObject.String())
	require.Equal(t, "Zombie", KindZombie.String())
	require.Equal(t, "Unknown", Kind(255).String())
}

func TestObjectFlagRoundTrip(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	obj, err := c.NewObject(KindObject)
	require.NoError(t, err)

	require.False(t, obj.HasFlag(FlagFinalizer))
	obj.SetFlag(FlagFinalizer | FlagShared)
	require.True(t, obj.HasFlag(FlagFinalizer))
	require.True(t, obj.HasFlag(FlagShared))

	obj.ClearFlag(FlagShared)
	require.True(t, obj.HasFlag(FlagFinalizer))
	require.False(t, obj.HasFlag(FlagShared))
}

func TestObjectClassRoundTrip(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	obj, err := c.NewObject(KindObject)
	require.NoError(t, err)
	require.Zero(t, obj.Class())

	obj.SetClass(obj.Ref())
	require.Equal(t, obj.Ref(), obj.Class())
}

func TestObjectPayloadSizedToSlot(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)

	obj, err := c.NewObject(KindObject)
	require.NoError(t, err)
	require.Len(t, obj.Payload(), 64-int(slotHeaderSize))
}
