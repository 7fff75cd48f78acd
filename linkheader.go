package main

import (
	"iter"
	"strings"
)

// Link is one entry of an RFC 5988 Link header.
type Link struct {
	URL   string
	Attrs map[string]string
}

// Links indexes the entries of a Link header by their rel attribute.
type Links map[string]Link

// Get returns the link for rel. A missing relation is reported with ok=false.
func (l Links) Get(rel string) (Link, bool) {
	link, ok := l[rel]
	return link, ok
}

// ParseLinks returns the entries of a Link header value, e.g.
//
//	<https://api.github.com/repositories/1/pulls?page=2>; rel="next", <...>; rel="last"
//
// The sequence is lazy and re-parses the header on every iteration. Parsing
// stops silently at the first malformed entry.
func ParseLinks(header string) iter.Seq[Link] {
	return func(yield func(Link) bool) {
		rest := header
		for {
			rest = strings.TrimLeft(rest, " \t")
			if rest == "" || rest[0] != '<' {
				return
			}
			end := strings.IndexByte(rest, '>')
			if end < 0 {
				return
			}
			link := Link{URL: rest[1:end], Attrs: map[string]string{}}
			rest = rest[end+1:]

			var ok bool
			if rest, ok = parseLinkAttrs(rest, link.Attrs); !ok {
				return
			}
			if !yield(link) {
				return
			}
		}
	}
}

// parseLinkAttrs consumes `; name="value"` pairs up to and including the
// comma that ends the entry.
func parseLinkAttrs(rest string, attrs map[string]string) (string, bool) {
	for {
		rest = strings.TrimLeft(rest, " \t")
		switch {
		case rest == "":
			return rest, true
		case rest[0] == ',':
			return rest[1:], true
		case rest[0] != ';':
			return rest, false
		}

		rest = strings.TrimLeft(rest[1:], " \t")
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return rest, false
		}
		name := strings.ToLower(strings.TrimSpace(rest[:eq]))
		rest = strings.TrimLeft(rest[eq+1:], " \t")

		var value string
		if strings.HasPrefix(rest, `"`) {
			closing := strings.IndexByte(rest[1:], '"')
			if closing < 0 {
				return rest, false
			}
			value = rest[1 : closing+1]
			rest = rest[closing+2:]
		} else {
			stop := strings.IndexAny(rest, ";,")
			if stop < 0 {
				stop = len(rest)
			}
			value = strings.TrimSpace(rest[:stop])
			rest = rest[stop:]
		}
		attrs[name] = value
	}
}

// LinksByRel parses header and keys the entries by rel. Entries without a rel
// attribute are dropped.
func LinksByRel(header string) Links {
	links := Links{}
	for link := range ParseLinks(header) {
		if rel, ok := link.Attrs["rel"]; ok {
			links[rel] = link
		}
	}
	return links
}
