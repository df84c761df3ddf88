package platform

import "strings"

// Recognized output template placeholders (yt-dlp style)
const (
	PlaceholderTitle         = "title"
	PlaceholderID            = "id"
	PlaceholderUploader      = "uploader"
	PlaceholderUploadDate    = "upload_date"
	PlaceholderResolution    = "resolution"
	PlaceholderPlaylistIndex = "playlist_index"
	PlaceholderExt           = "ext"
)

// DefaultFilenameTemplate is the filename part of the destination template
const DefaultFilenameTemplate = "%(title)s.%(ext)s"

// ExpandTemplate substitutes the provided values into a destination path
// template. Values are sanitized before substitution. Placeholders without a
// value are left intact so they can be filled in later (the extension, for
// example, is only known once a format has been resolved).
func ExpandTemplate(tmpl string, vars map[string]string) string {
	for key, value := range vars {
		tmpl = strings.ReplaceAll(tmpl, "%("+key+")s", SanitizeFileName(value))
	}
	return tmpl
}
