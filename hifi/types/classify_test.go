package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xeptore/hifidl/hifi/types"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		json string
		want types.Kind
	}{
		{
			name: "track with singular artist",
			json: `{"album":{"id":1},"artist":{"name":"A"},"duration":100}`,
			want: types.KindTrack,
		},
		{
			name: "track with artists array",
			json: `{"album":{"id":1},"artists":[{"name":"A"}],"duration":100}`,
			want: types.KindTrack,
		},
		{
			name: "album by cover",
			json: `{"title":"LP","cover":"aa-bb"}`,
			want: types.KindAlbum,
		},
		{
			name: "album by track count",
			json: `{"title":"LP","numberOfTracks":9}`,
			want: types.KindAlbum,
		},
		{
			name: "artist by picture",
			json: `{"name":"A","picture":"pp"}`,
			want: types.KindArtist,
		},
		{
			name: "artist by popularity",
			json: `{"name":"A","popularity":42}`,
			want: types.KindArtist,
		},
		{
			name: "track missing duration is not a track",
			json: `{"album":{"id":1},"artist":{"name":"A"}}`,
			want: types.KindUnknown,
		},
		{
			name: "bare object",
			json: `{"foo":"bar"}`,
			want: types.KindUnknown,
		},
		{
			name: "non-object",
			json: `[1,2,3]`,
			want: types.KindUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, types.Classify(gjson.Parse(tt.json)))
		})
	}
}

func TestFindFirstLocatesDeeplyNestedNode(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"data": {
			"results": [
				{"wrapper": {"item": {"album": {"id": 1}, "artist": {"name": "A"}, "duration": 60, "title": "Deep"}}}
			]
		}
	}`)

	node, ok := types.FindFirst(body, types.KindTrack)
	require.True(t, ok)
	assert.Equal(t, "Deep", node.Get("title").Str)
}

func TestFindFirstWithFieldIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	body := []byte(`[{"foo":1},{"OriginalTrackUrl":"https://cdn.example/1.flac"}]`)

	node, ok := types.FindFirstWithField(body, "originaltrackurl")
	require.True(t, ok)

	v, ok := types.Field(node, "ORIGINALTRACKURL")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/1.flac", v.Str)
}

func TestFindFirstRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	_, ok := types.FindFirst([]byte(`{"broken":`), types.KindTrack)
	assert.False(t, ok)
}

func TestWalkSkipsChildrenWhenVisitorDeclines(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"track": {"album": {"id": 1, "title": "Embedded", "cover": "cc"}, "artist": {"name": "A"}, "duration": 60},
		"album": {"title": "Standalone", "cover": "dd"}
	}`)

	var albums []string
	types.Walk(body, func(node gjson.Result) bool {
		if types.Classify(node) == types.KindTrack {
			return false
		}

		if types.Classify(node) == types.KindAlbum {
			albums = append(albums, node.Get("title").Str)
			return false
		}

		return true
	})

	assert.Equal(t, []string{"Standalone"}, albums)
}
