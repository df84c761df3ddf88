// Package plan classifies user-supplied URLs and resolves them into batches
// of schedulable download jobs.
package plan
