// Package format ranks raw format descriptors returned by the extraction
// backend and applies the user's quality selection policy.
package format
