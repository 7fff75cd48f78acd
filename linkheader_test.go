package main

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseLinks(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   []Link
	}{
		{
			name:   "empty header",
			header: "",
			want:   nil,
		},
		{
			name:   "next and last",
			header: `<https://x/a>; rel="next", <https://x/b>; rel="last"`,
			want: []Link{
				{URL: "https://x/a", Attrs: map[string]string{"rel": "next"}},
				{URL: "https://x/b", Attrs: map[string]string{"rel": "last"}},
			},
		},
		{
			name:   "quoted value with separators",
			header: `<https://x/a>; title="a, b; c=d"; rel="next"`,
			want: []Link{
				{URL: "https://x/a", Attrs: map[string]string{"title": "a, b; c=d", "rel": "next"}},
			},
		},
		{
			name:   "entry without attributes",
			header: `<https://x/a>, <https://x/b>; rel="prev"`,
			want: []Link{
				{URL: "https://x/a", Attrs: map[string]string{}},
				{URL: "https://x/b", Attrs: map[string]string{"rel": "prev"}},
			},
		},
		{
			name:   "unquoted token value",
			header: `<https://x/a>; rel=next`,
			want: []Link{
				{URL: "https://x/a", Attrs: map[string]string{"rel": "next"}},
			},
		},
		{
			name:   "stops at malformed entry",
			header: `<https://x/a>; rel="next", garbage, <https://x/b>; rel="last"`,
			want: []Link{
				{URL: "https://x/a", Attrs: map[string]string{"rel": "next"}},
			},
		},
		{
			name:   "unterminated quote",
			header: `<https://x/a>; rel="next`,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slices.Collect(ParseLinks(tt.header))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseLinks() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLinksIsRestartable(t *testing.T) {
	seq := ParseLinks(`<https://x/a>; rel="next", <https://x/b>; rel="last"`)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected two entries on each pass, got %d and %d", len(first), len(second))
	}
}

func TestParseLinksStopsEarly(t *testing.T) {
	var seen int
	for range ParseLinks(`<https://x/a>; rel="next", <https://x/b>; rel="last"`) {
		seen++
		break
	}
	if seen != 1 {
		t.Fatalf("expected iteration to stop after one entry, got %d", seen)
	}
}

func TestLinksByRel(t *testing.T) {
	links := LinksByRel(`<https://x/a>; rel="next", <https://x/c>; title="no rel", <https://x/b>; rel="last"`)

	if len(links) != 2 {
		t.Fatalf("expected 2 rel-keyed links, got %d", len(links))
	}
	if next, ok := links.Get("next"); !ok || next.URL != "https://x/a" {
		t.Errorf("next = %+v, %v", next, ok)
	}
	if last, ok := links.Get("last"); !ok || last.URL != "https://x/b" {
		t.Errorf("last = %+v, %v", last, ok)
	}
	if _, ok := links.Get("prev"); ok {
		t.Error("expected prev to be absent")
	}
}

func TestLinksByRelEmpty(t *testing.T) {
	if _, ok := LinksByRel("").Get("next"); ok {
		t.Fatal("expected no next link in an empty header")
	}
}
