// Package gc implements a stop-the-world, non-moving, non-generational
// mark-and-sweep garbage collector for a dynamic-language managed runtime.
//
// The collector owns allocation, liveness discovery, reclamation,
// finalization, and heap growth for every heap-resident managed object. It
// supports incremental ("lazy") sweeping interleaved with allocation and an
// optional parallel marking phase driven by a work-stealing scheduler with
// private per-worker mark stacks and overflow spill.
//
// The host language's object model, thread/VM integration, and profiling
// report formatting are external collaborators: this package only specifies
// the narrow interfaces it needs from them (see Tracer and Config).
//
// Out of scope: compaction/relocation, generational partitioning, concurrent
// marking alongside the mutator, and write barriers (marking is always
// stop-the-world, so none are required).
package gc
