package gc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProfilerDisabledByDefaultRecordsNothing(t *testing.T) {
	p := newProfiler()
	p.begin()
	p.end(&heap{}, 64, false, 0, 0)
	require.Empty(t, p.Records())
}

func TestProfilerRecordsOneEntryPerCycle(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)
	c.EnableProfiler(true)

	c.Collect()
	c.Collect()

	records := c.ProfilerRecords()
	require.Len(t, records, 2)
	require.Equal(t, 0, records[0].Index)
	require.Equal(t, 1, records[1].Index)
}

func TestProfilerClearDiscardsRecordsButKeepsEnabled(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)
	c.EnableProfiler(true)
	c.Collect()
	require.NotEmpty(t, c.ProfilerRecords())

	c.ProfilerClear()
	require.Empty(t, c.ProfilerRecords())

	c.Collect()
	require.Len(t, c.ProfilerRecords(), 1, "profiling must still be enabled after Clear")
}

func TestProfilerTotalTimeSumsRecordedDurations(t *testing.T) {
	p := newProfiler()
	p.Enable(true)
	p.records = append(p.records,
		ProfileRecord{GCTime: 10}, ProfileRecord{GCTime: 20}, ProfileRecord{GCTime: 30})
	require.Equal(t, int64(60), int64(p.TotalTime()))
}

func TestProfilerGrowsPastInitialCapacity(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCollector(t, tracer)
	c.EnableProfiler(true)

	for i := 0; i < profileInitialCapacity+5; i++ {
		c.Collect()
	}
	require.Len(t, c.ProfilerRecords(), profileInitialCapacity+5)
}
