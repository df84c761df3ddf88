// Package ytdlp adapts the yt-dlp based libraries to the backend.Extractor
// capability. Collection listings come from the ytget/ytdlp client; item
// transfers run through go-ytdlp, so format descriptors here are curated
// selector expressions rather than per-itag entries.
package ytdlp
