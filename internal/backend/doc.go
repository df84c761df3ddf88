// Package backend defines the extraction capability consumed by the engine:
// given a URL, list or describe retrievable items; given an item and a
// format selection, stream bytes to a destination path while reporting
// progress. Concrete adapters live in subpackages.
package backend
