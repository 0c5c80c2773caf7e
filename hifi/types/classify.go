package types

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Kind tags a classified API payload node.
//
// Required fields per tag:
//
//	Track:  album, artist (or artists), duration
//	Album:  title, and one of cover / numberOfTracks / releaseDate
//	Artist: name, and one of picture / artistTypes / popularity
//
// Anything else is Unknown.
type Kind int

const (
	KindUnknown Kind = iota
	KindTrack
	KindAlbum
	KindArtist
)

func (k Kind) String() string {
	switch k {
	case KindTrack:
		return "track"
	case KindAlbum:
		return "album"
	case KindArtist:
		return "artist"
	default:
		return "unknown"
	}
}

func Classify(node gjson.Result) Kind {
	if !node.IsObject() {
		return KindUnknown
	}

	if node.Get("album").Exists() &&
		(node.Get("artist").Exists() || node.Get("artists").Exists()) &&
		node.Get("duration").Exists() {
		return KindTrack
	}

	if node.Get("title").Exists() &&
		(node.Get("cover").Exists() || node.Get("numberOfTracks").Exists() || node.Get("releaseDate").Exists()) {
		return KindAlbum
	}

	if node.Get("name").Exists() &&
		(node.Get("picture").Exists() || node.Get("artistTypes").Exists() || node.Get("popularity").Exists()) {
		return KindArtist
	}

	return KindUnknown
}

// FindFirst walks the payload tree breadth-first and returns the first node
// classified as the wanted kind. Traversal uses an explicit work queue and a
// visited set keyed by node offset, so depth stays bounded and revisits are
// impossible on any payload shape.
func FindFirst(body []byte, want Kind) (gjson.Result, bool) {
	return scan(body, func(node gjson.Result) bool { return Classify(node) == want })
}

// FindFirstWithField returns the first object node carrying the named field.
// Key comparison is case-insensitive as mirrors disagree on casing.
func FindFirstWithField(body []byte, field string) (gjson.Result, bool) {
	return scan(body, func(node gjson.Result) bool {
		var found bool
		node.ForEach(func(k, _ gjson.Result) bool {
			if strings.EqualFold(k.Str, field) {
				found = true
				return false
			}

			return true
		})

		return found
	})
}

// Walk visits every object node breadth-first. The visitor's return value
// decides whether the node's children are descended into; skipping a matched
// node's children keeps, for example, a track's embedded album object out of
// album buckets.
func Walk(body []byte, visit func(node gjson.Result) (descend bool)) {
	if !gjson.ValidBytes(body) {
		return
	}

	var (
		queue   = []gjson.Result{gjson.ParseBytes(body)}
		visited = make(map[int]struct{})
	)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if node.Index > 0 {
			if _, ok := visited[node.Index]; ok {
				continue
			}
			visited[node.Index] = struct{}{}
		}

		if node.IsObject() {
			if !visit(node) {
				continue
			}
		}

		if node.IsObject() || node.IsArray() {
			node.ForEach(func(_, v gjson.Result) bool {
				if v.IsObject() || v.IsArray() {
					queue = append(queue, v)
				}

				return true
			})
		}
	}
}

func scan(body []byte, match func(gjson.Result) bool) (gjson.Result, bool) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, false
	}

	var (
		queue   = []gjson.Result{gjson.ParseBytes(body)}
		visited = make(map[int]struct{})
	)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		// Index is the node's byte offset in the original document; 0 means
		// the offset is unknown, which must not alias distinct nodes.
		if node.Index > 0 {
			if _, ok := visited[node.Index]; ok {
				continue
			}
			visited[node.Index] = struct{}{}
		}

		if node.IsObject() && match(node) {
			return node, true
		}

		if node.IsObject() || node.IsArray() {
			node.ForEach(func(_, v gjson.Result) bool {
				if v.IsObject() || v.IsArray() {
					queue = append(queue, v)
				}

				return true
			})
		}
	}

	return gjson.Result{}, false
}

// Field returns the value of the named field on an object node, matching the
// key case-insensitively.
func Field(node gjson.Result, field string) (gjson.Result, bool) {
	var (
		out   gjson.Result
		found bool
	)
	node.ForEach(func(k, v gjson.Result) bool {
		if strings.EqualFold(k.Str, field) {
			out = v
			found = true
			return false
		}

		return true
	})

	return out, found
}
