package gc

import (
	"time"

	"github.com/rs/zerolog"
)

// ProfileRecord is one GC cycle's profiling snapshot, captured immediately
// after the cycle completes (spec.md §4.10 "profiler", grounded on
// authorNari/ruby's gc_profile_record shape in gc_ms_profiler.c /
// gc_profile.c). GCTime is the full cycle wall time; MarkTime/SweepTime
// split it into its two phases, the way gc_profile_record_flush reports
// GC_PROFILE_MORE_DETAIL timings.
type ProfileRecord struct {
	Index                int
	GCTime               time.Duration
	MarkTime             time.Duration
	SweepTime            time.Duration
	InvokeTimeSinceStart time.Duration

	HeapUseSlots   int
	HeapLiveSlots  int
	HeapFreeSlots  int
	HeapTotalSlots int
	HeapTotalPages int
	TotalObjects   int

	UseBytes   int64
	TotalBytes int64

	MallocIncrease int64
	MallocLimit    int64

	// HadFinalize reports whether this cycle queued at least one zombie for
	// finalization.
	HadFinalize bool
	// IsMarked reports whether this record corresponds to a cycle that ran
	// an actual mark phase, as opposed to a sweep-only pass; collectLocked
	// always runs both, so every record from it has this true — the field
	// exists so a future lazy-sweep-only profiling point (spec.md §4.6) has
	// somewhere to report false.
	IsMarked bool
}

// profileInitialCapacity / profileGrowthIncrement size the profiler's
// record array: it starts at 1000 entries and grows in fixed 1000-entry
// increments rather than doubling, matching gc_ms_profiler.c's array.
const (
	profileInitialCapacity = 1000
	profileGrowthIncrement = 1000
)

// profiler is a growable array of ProfileRecords plus the enable switch
// and the phase timers collectLocked drives across one cycle.
type profiler struct {
	enabled      bool
	records      []ProfileRecord
	processStart time.Time

	cycleStart time.Time
	markStart  time.Time
	sweepStart time.Time
	markTime   time.Duration
	sweepTime  time.Duration
}

func newProfiler() *profiler {
	return &profiler{
		records:      make([]ProfileRecord, 0, profileInitialCapacity),
		processStart: time.Now(),
	}
}

// Enable turns profiling on or off. Disabling does not discard records
// already collected.
func (p *profiler) Enable(on bool) { p.enabled = on }

// Enabled reports the current profiling switch state.
func (p *profiler) Enabled() bool { return p.enabled }

func (p *profiler) begin() {
	if !p.enabled {
		return
	}
	p.cycleStart = time.Now()
}

// beginMark/endMark and beginSweep/endSweep bracket the two phases
// collectLocked runs, so the completed record can report them separately
// (spec.md §4.10 mark_time/sweep_time).
func (p *profiler) beginMark() {
	if !p.enabled {
		return
	}
	p.markStart = time.Now()
}

func (p *profiler) endMark() {
	if !p.enabled {
		return
	}
	p.markTime = time.Since(p.markStart)
}

func (p *profiler) beginSweep() {
	if !p.enabled {
		return
	}
	p.sweepStart = time.Now()
}

func (p *profiler) endSweep() {
	if !p.enabled {
		return
	}
	p.sweepTime = time.Since(p.sweepStart)
}

// end closes out the cycle's record. slotSize converts slot counts to byte
// totals (use_bytes/total_bytes); mallocIncrease/mallocLimit are the
// accountant's post-cycle snapshot; hadFinalize reports whether any zombie
// was queued this cycle, sampled by the caller before runPendingFinalizers
// drains the queue.
func (p *profiler) end(h *heap, slotSize int, hadFinalize bool, mallocIncrease, mallocLimit int64) {
	if !p.enabled {
		return
	}
	if len(p.records) == cap(p.records) {
		grown := make([]ProfileRecord, len(p.records), cap(p.records)+profileGrowthIncrement)
		copy(grown, p.records)
		p.records = grown
	}
	free := h.freeSlotCount()
	used := h.totalSlots - free
	p.records = append(p.records, ProfileRecord{
		Index:                len(p.records),
		GCTime:               time.Since(p.cycleStart),
		MarkTime:             p.markTime,
		SweepTime:            p.sweepTime,
		InvokeTimeSinceStart: time.Since(p.processStart),

		HeapUseSlots:   used,
		HeapLiveSlots:  h.liveSlotsLastSweep(),
		HeapFreeSlots:  free,
		HeapTotalSlots: h.totalSlots,
		HeapTotalPages: h.pages,
		TotalObjects:   used,

		UseBytes:   int64(used) * int64(slotSize),
		TotalBytes: int64(h.totalSlots) * int64(slotSize),

		MallocIncrease: mallocIncrease,
		MallocLimit:    mallocLimit,

		HadFinalize: hadFinalize,
		IsMarked:    true,
	})
}

// Clear discards every recorded cycle, keeping the underlying array's
// capacity (GC::Profiler.clear).
func (p *profiler) Clear() {
	p.records = p.records[:0]
}

// Records returns every cycle recorded so far, in order.
func (p *profiler) Records() []ProfileRecord {
	return p.records
}

// TotalTime sums the GC time of every recorded cycle (GC::Profiler.total_time).
func (p *profiler) TotalTime() time.Duration {
	var total time.Duration
	for _, r := range p.records {
		total += r.GCTime
	}
	return total
}

// Report logs every recorded cycle through logger, one structured event
// per cycle — the collector's analogue of GC::Profiler.report.
func (p *profiler) Report(logger zerolog.Logger) {
	for _, r := range p.records {
		logger.Info().
			Int("cycle", r.Index).
			Dur("gc_time", r.GCTime).
			Dur("mark_time", r.MarkTime).
			Dur("sweep_time", r.SweepTime).
			Dur("invoke_time_since_start", r.InvokeTimeSinceStart).
			Int("heap_use_slots", r.HeapUseSlots).
			Int("heap_live_slots", r.HeapLiveSlots).
			Int("heap_free_slots", r.HeapFreeSlots).
			Int("heap_total_slots", r.HeapTotalSlots).
			Int("heap_total_pages", r.HeapTotalPages).
			Int("total_objects", r.TotalObjects).
			Int64("use_bytes", r.UseBytes).
			Int64("total_bytes", r.TotalBytes).
			Int64("malloc_increase", r.MallocIncrease).
			Int64("malloc_limit", r.MallocLimit).
			Bool("had_finalize", r.HadFinalize).
			Bool("is_marked", r.IsMarked).
			Msg("gc cycle")
	}
}
