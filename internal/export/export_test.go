package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderDigestHTML(t *testing.T) {
	digest := Digest{
		ProfileName: "Hope Farm",
		Kind:        "project",
		GeneratedAt: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
		Sections: []DigestSection{
			{
				Heading: "Updates",
				Items: []DigestItem{{
					Title:     "First harvest",
					Text:      "The maize came in early.",
					Author:    "Pat",
					CreatedAt: "2025-03-01T00:00:00Z",
					Tags:      []string{"harvest", "maize"},
					Comments:  []DigestComment{{Author: "Sam", Text: "Wonderful news"}},
				}},
			},
			{
				Heading: "Funding Needs",
				Items: []DigestItem{{
					Title:        "New roof",
					Text:         "The barn roof leaks.",
					TargetAmount: 1200,
					Currency:     "USD",
				}},
			},
		},
	}

	html, err := RenderDigestHTML(digest)
	if err != nil {
		t.Fatalf("RenderDigestHTML: %v", err)
	}

	for _, want := range []string{
		"<h1>Hope Farm</h1>",
		"generated Mar 14, 2025",
		"<h2>Updates</h2>",
		"First harvest",
		"harvest, maize",
		"<strong>Sam</strong>: Wonderful news",
		"Goal: 1200 USD",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestRenderDigestHTMLEscapesMarkup(t *testing.T) {
	digest := Digest{
		ProfileName: "Hope Farm",
		Sections: []DigestSection{{
			Heading: "Updates",
			Items:   []DigestItem{{Text: "<script>alert(1)</script>"}},
		}},
	}

	html, err := RenderDigestHTML(digest)
	if err != nil {
		t.Fatalf("RenderDigestHTML: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("item text must be escaped")
	}
}

func TestRenderDigestHTMLEmptySection(t *testing.T) {
	digest := Digest{
		ProfileName: "Quiet Profile",
		Sections:    []DigestSection{{Heading: "Prayer Requests"}},
	}

	html, err := RenderDigestHTML(digest)
	if err != nil {
		t.Fatalf("RenderDigestHTML: %v", err)
	}
	if !strings.Contains(html, "Nothing here yet.") {
		t.Fatalf("empty section placeholder missing")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"Hope Farm", "Hope-Farm"},
		{"a/b\\c:d", "abcd"},
		{"", "profile"},
		{"---", "---"},
		{strings.Repeat("x", 60), strings.Repeat("x", 50)},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.input); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b&c")
	if got != "a%20b%26c" {
		t.Fatalf("got %q", got)
	}
}
