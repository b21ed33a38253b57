package links

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinks/skylinks/atproto/syntax"
)

func TestTruncate(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("short", Truncate("short", 500))
	assert.Equal("", Truncate("", 10))

	long := strings.Repeat("a", 600)
	out := Truncate(long, MaxTitleBytes)
	assert.Len(out, 500)
	assert.True(strings.HasSuffix(out, "..."))
	assert.Equal(strings.Repeat("a", 497), strings.TrimSuffix(out, "..."))

	exact := strings.Repeat("b", 500)
	assert.Equal(exact, Truncate(exact, 500))

	// multi-byte: never split a character, never exceed the byte limit
	jp := strings.Repeat("日本語", 100) // 900 bytes
	out = Truncate(jp, 500)
	assert.LessOrEqual(len(out), 500)
	assert.True(utf8.ValidString(out))
	assert.True(strings.HasSuffix(out, "..."))
	assert.Equal(495+3, len(out))

	// "e" plus a combining accent is one grapheme
	out = Truncate("abcdefe\u0301xyz", 10)
	assert.Equal("abcdef...", out)

	assert.Equal("..", Truncate("abcdef", 2))
}

func TestLinkRecord(t *testing.T) {
	assert := assert.New(t)
	created := time.Date(2025, 3, 4, 5, 6, 7, 800_000_000, time.UTC)

	tags := make([]string, 15)
	for i := range tags {
		tags[i] = string(rune('a' + i))
	}
	lr := LinkRecord{
		URL:       "https://example.com/article",
		Title:     strings.Repeat("x", 600),
		Domain:    "example.com",
		Tags:      tags,
		Langs:     []string{"en"},
		Score:     73,
		CreatedAt: created,
		Source: &SourcePost{
			URI:     "at://did:plc:author/app.bsky.feed.post/3kao2cl6lyj2p",
			CID:     "bafypost",
			Author:  "did:plc:author",
			Excerpt: strings.Repeat("y", 800),
		},
	}
	rec := lr.Record()

	assert.Equal("app.skylinks.link", rec["$type"])
	assert.Equal("2025-03-04T05:06:07.800Z", rec["createdAt"])
	assert.Equal("https://example.com/article", rec["url"])
	assert.Len(rec["title"], 500)
	assert.NotContains(rec, "description")
	assert.NotContains(rec, "image")
	assert.Len(rec["tags"], MaxTags)
	assert.Equal(int64(73), rec["score"])

	src := rec["sourcePost"].(map[string]any)
	assert.Len(src["excerpt"], 500)
	assert.Equal("did:plc:author", src["author"])

	for k, v := range rec {
		assert.NotNil(v, k)
	}
}

func TestLinkRecordEmptyLists(t *testing.T) {
	assert := assert.New(t)
	lr := LinkRecord{URL: "https://example.com", Tags: []string{}, Langs: []string{"", ""}}
	rec := lr.Record()

	assert.NotContains(rec, "tags")
	assert.NotContains(rec, "langs")
	assert.NotContains(rec, "sourcePost")
	_, err := syntax.ParseDatetime(rec["createdAt"].(string))
	assert.NoError(err)
}

func TestLinkRecordEmptyURL(t *testing.T) {
	assert := assert.New(t)
	rec := (&LinkRecord{Score: 5}).Record()

	assert.NotContains(rec, "url")
	assert.Equal(int64(5), rec["score"])
	_, err := ParseLinkRecord(rec)
	assert.ErrorIs(err, ErrInvalidRecord)
}

func TestBookmarkRecord(t *testing.T) {
	assert := assert.New(t)
	br := BookmarkRecord{
		Subject:      "https://example.com",
		Note:         strings.Repeat("n", 1500),
		Description:  strings.Repeat("d", 2500),
		PersonalTags: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"},
		Langs:        []string{"en", "fr", "de", "es", "it", "pt", "ja"},
	}
	rec := br.Record()

	assert.Equal("app.skylinks.bookmark", rec["$type"])
	assert.Len(rec["note"], MaxNoteBytes)
	assert.Len(rec["description"], MaxDescriptionBytes)
	assert.Len(rec["personalTags"], MaxPersonalTags)
	assert.Len(rec["langs"], MaxLangs)
	assert.NotContains(rec, "title")
	assert.NotContains(rec, "tags")
}

func TestParseLinkRecordWire(t *testing.T) {
	assert := assert.New(t)
	lr := LinkRecord{
		URL:         "https://example.com",
		Title:       "Example",
		Description: "A page",
		Tags:        []string{"go", "atproto"},
		Score:       88,
		CreatedAt:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Source:      &SourcePost{URI: "at://did:plc:a/app.bsky.feed.post/3kao2cl6lyj2p", Author: "did:plc:a"},
	}

	// through JSON, as a record read back from a PDS would be
	b, err := json.Marshal(lr.Record())
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))

	got, err := ParseLinkRecord(raw)
	require.NoError(t, err)
	assert.Equal(lr.URL, got.URL)
	assert.Equal(lr.Title, got.Title)
	assert.Equal(lr.Tags, got.Tags)
	assert.Equal(int64(88), got.Score)
	assert.True(lr.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.Source)
	assert.Equal(syntax.DID("did:plc:a"), got.Source.Author)

	_, err = ParseLinkRecord(map[string]any{"$type": "app.skylinks.bookmark"})
	assert.ErrorIs(err, ErrInvalidRecord)
	_, err = ParseLinkRecord(map[string]any{"$type": "app.skylinks.link", "url": "https://x", "createdAt": "2025-01-01T00:00:00.000Z", "score": 1.5})
	assert.ErrorIs(err, ErrInvalidRecord)
	_, err = ParseLinkRecord(map[string]any{"$type": "app.skylinks.link", "url": "https://x"})
	assert.ErrorIs(err, ErrInvalidRecord)
}

func TestParseBookmarkRecord(t *testing.T) {
	assert := assert.New(t)
	br := BookmarkRecord{Subject: "https://example.com", Note: "read later", PersonalTags: []string{"todo"}}

	got, err := ParseBookmarkRecord(br.Record())
	require.NoError(t, err)
	assert.Equal("read later", got.Note)
	assert.Equal([]string{"todo"}, got.PersonalTags)
	assert.Nil(got.Tags)

	_, err = ParseBookmarkRecord(map[string]any{"$type": "app.skylinks.bookmark", "createdAt": "2025-01-01T00:00:00.000Z"})
	assert.ErrorIs(err, ErrInvalidRecord)
}
