// Package model contains the core data types of the download engine:
// items, format descriptors, jobs, batches and their state machines.
package model
