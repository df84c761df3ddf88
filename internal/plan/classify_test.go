package plan

import (
	"testing"

	"github.com/tetor-04/IDM-YT/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		url  string
		kind model.SourceKind
	}{
		{"plain video", "https://www.youtube.com/watch?v=abc123", model.SourceSingleItem},
		{"short link", "https://youtu.be/abc123", model.SourceSingleItem},
		{"pure playlist", "https://www.youtube.com/playlist?list=PLxyz", model.SourcePlaylist},
		{"video inside playlist", "https://www.youtube.com/watch?v=abc123&list=PLxyz", model.SourceAmbiguous},
		{"channel by handle", "https://www.youtube.com/@SomeCreator", model.SourceChannel},
		{"channel by id", "https://www.youtube.com/channel/UCabc", model.SourceChannel},
		{"legacy user URL", "https://www.youtube.com/user/someone", model.SourceChannel},
	}

	for _, test := range tests {
		if got := Classify(test.url); got.Kind != test.kind {
			t.Errorf("%s: Classify(%q).Kind = %s, expected %s", test.name, test.url, got.Kind, test.kind)
		}
	}
}

func TestClassify_ExtractsIDs(t *testing.T) {
	cls := Classify("https://www.youtube.com/watch?v=abc123&list=PLxyz")

	if cls.ItemID != "abc123" {
		t.Errorf("Expected ItemID abc123, got %q", cls.ItemID)
	}
	if cls.CollectionID != "PLxyz" {
		t.Errorf("Expected CollectionID PLxyz, got %q", cls.CollectionID)
	}
}

func TestClassify_CleansSingleItemURL(t *testing.T) {
	cls := Classify("https://www.youtube.com/watch?v=abc123&t=42s&feature=share")

	if cls.URL != "https://www.youtube.com/watch?v=abc123" {
		t.Errorf("Expected cleaned URL, got %q", cls.URL)
	}
}

func TestClassify_ChannelGetsVideosTab(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://www.youtube.com/@SomeCreator", "https://www.youtube.com/@SomeCreator/videos"},
		{"https://www.youtube.com/@SomeCreator/", "https://www.youtube.com/@SomeCreator/videos"},
		{"https://www.youtube.com/@SomeCreator/videos", "https://www.youtube.com/@SomeCreator/videos"},
		{"https://www.youtube.com/@SomeCreator/shorts", "https://www.youtube.com/@SomeCreator/shorts"},
	}

	for _, test := range tests {
		if got := Classify(test.url); got.URL != test.expected {
			t.Errorf("Classify(%q).URL = %q, expected %q", test.url, got.URL, test.expected)
		}
	}
}
