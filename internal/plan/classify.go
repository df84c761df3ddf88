package plan

import (
	"net/url"
	"strings"

	"github.com/tetor-04/IDM-YT/internal/model"
)

// URL shape markers
var (
	channelPathMarkers = []string{"/channel/", "/@", "/c/", "/user/"}
	channelTabSuffixes = []string{"/videos", "/streams", "/shorts"}
)

// URL parameters
const (
	itemParam       = "v"
	collectionParam = "list"
	playlistPath    = "/playlist"
)

// Classification is the result of inspecting a source URL: its kind plus the
// cleaned URL and the ids needed to proceed.
type Classification struct {
	Kind         model.SourceKind
	URL          string // cleaned URL to fetch
	ItemID       string
	CollectionID string
}

// Classify inspects the shape of a user-supplied URL. A URL carrying both a
// single-item id and a collection id comes back Ambiguous and needs an
// explicit user choice before resolution proceeds.
func Classify(raw string) Classification {
	for _, marker := range channelPathMarkers {
		if strings.Contains(raw, marker) {
			return Classification{
				Kind: model.SourceChannel,
				URL:  ensureVideosTab(raw),
			}
		}
	}

	itemID, collectionID := extractIDs(raw)
	hasCollection := collectionID != "" || strings.Contains(raw, playlistPath)

	switch {
	case hasCollection && itemID != "":
		return Classification{
			Kind:         model.SourceAmbiguous,
			URL:          raw,
			ItemID:       itemID,
			CollectionID: collectionID,
		}
	case hasCollection:
		return Classification{
			Kind:         model.SourcePlaylist,
			URL:          raw,
			CollectionID: collectionID,
		}
	default:
		return Classification{
			Kind:   model.SourceSingleItem,
			URL:    cleanSingleURL(raw),
			ItemID: itemID,
		}
	}
}

// extractIDs pulls the single-item and collection ids out of the query
func extractIDs(raw string) (itemID, collectionID string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	q := u.Query()
	itemID = q.Get(itemParam)
	collectionID = q.Get(collectionParam)
	if itemID == "" && strings.Contains(u.Host, "youtu.be") {
		itemID = strings.Trim(u.Path, "/")
	}
	return itemID, collectionID
}

// cleanSingleURL strips tracking and collection parameters from a
// single-item URL, keeping only the item id
func cleanSingleURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	v := q.Get(itemParam)
	if v == "" {
		return raw
	}
	u.RawQuery = url.Values{itemParam: {v}}.Encode()
	return u.String()
}

// ensureVideosTab normalizes a channel URL to its videos tab so listing
// returns the uploads rather than the channel landing page
func ensureVideosTab(raw string) string {
	for _, suffix := range channelTabSuffixes {
		if strings.HasSuffix(raw, suffix) {
			return raw
		}
	}
	return strings.TrimRight(raw, "/") + "/videos"
}
