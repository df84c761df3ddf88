// Package youtube adapts the kkdai/youtube client to the backend.Extractor
// capability, exposing per-itag format descriptors and direct streaming.
package youtube
