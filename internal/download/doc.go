// Package download is the scheduling core. It runs the jobs of a batch
// through a bounded worker pool, owns every job state transition, and
// aggregates per-job progress into batch-level progress. Workers never touch
// shared job state; they report through events that a single control loop
// applies.
package download
