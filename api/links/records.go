package links

import (
	"errors"
	"fmt"
	"time"

	"github.com/skylinks/skylinks/atproto/syntax"
)

const (
	LinkNSID     = syntax.NSID("app.skylinks.link")
	BookmarkNSID = syntax.NSID("app.skylinks.bookmark")
)

// Byte limits for text fields, and entry limits for list fields.
const (
	MaxTitleBytes       = 500
	MaxDescriptionBytes = 2000
	MaxNoteBytes        = 1000
	MaxExcerptBytes     = 500

	MaxTags         = 10
	MaxPersonalTags = 10
	MaxLangs        = 5
)

var ErrInvalidRecord = errors.New("invalid record")

// The post a link was discovered in.
type SourcePost struct {
	URI     syntax.ATURI
	CID     string
	Author  syntax.DID
	Excerpt string
}

func (sp *SourcePost) record() map[string]any {
	out := map[string]any{}
	setString(out, "uri", sp.URI.String())
	setString(out, "cid", sp.CID)
	setString(out, "author", sp.Author.String())
	setString(out, "excerpt", Truncate(sp.Excerpt, MaxExcerptBytes))
	return out
}

// A curated link, as published by the service account.
type LinkRecord struct {
	URL         string
	Title       string
	Description string
	Domain      string
	Image       string
	Tags        []string
	Langs       []string

	// Quality score; integer on the wire
	Score int64

	Source *SourcePost

	// Zero means the time Record is called
	CreatedAt time.Time
}

func (lr *LinkRecord) Record() map[string]any {
	out := map[string]any{
		"$type":     LinkNSID.String(),
		"score":     lr.Score,
		"createdAt": createdAt(lr.CreatedAt),
	}
	setString(out, "url", lr.URL)
	setString(out, "title", Truncate(lr.Title, MaxTitleBytes))
	setString(out, "description", Truncate(lr.Description, MaxDescriptionBytes))
	setString(out, "domain", lr.Domain)
	setString(out, "image", lr.Image)
	setList(out, "tags", capList(lr.Tags, MaxTags))
	setList(out, "langs", capList(lr.Langs, MaxLangs))
	if lr.Source != nil {
		if src := lr.Source.record(); len(src) > 0 {
			out["sourcePost"] = src
		}
	}
	return out
}

// A user's bookmark of a URL, published to their own repo.
type BookmarkRecord struct {
	// The bookmarked URL
	Subject      string
	Title        string
	Description  string
	Note         string
	Tags         []string
	PersonalTags []string
	Langs        []string
	CreatedAt    time.Time
}

func (br *BookmarkRecord) Record() map[string]any {
	out := map[string]any{
		"$type":     BookmarkNSID.String(),
		"createdAt": createdAt(br.CreatedAt),
	}
	setString(out, "subject", br.Subject)
	setString(out, "title", Truncate(br.Title, MaxTitleBytes))
	setString(out, "description", Truncate(br.Description, MaxDescriptionBytes))
	setString(out, "note", Truncate(br.Note, MaxNoteBytes))
	setList(out, "tags", capList(br.Tags, MaxTags))
	setList(out, "personalTags", capList(br.PersonalTags, MaxPersonalTags))
	setList(out, "langs", capList(br.Langs, MaxLangs))
	return out
}

// Decodes the wire form of an app.skylinks.link record. Values are taken as-is, without re-applying limits.
func ParseLinkRecord(raw map[string]any) (*LinkRecord, error) {
	if err := checkType(raw, LinkNSID); err != nil {
		return nil, err
	}
	url := getString(raw, "url")
	if url == "" {
		return nil, fmt.Errorf("%w: missing url", ErrInvalidRecord)
	}
	ts, err := getDatetime(raw)
	if err != nil {
		return nil, err
	}
	score, err := getInt(raw, "score")
	if err != nil {
		return nil, err
	}

	lr := LinkRecord{
		URL:         url,
		Title:       getString(raw, "title"),
		Description: getString(raw, "description"),
		Domain:      getString(raw, "domain"),
		Image:       getString(raw, "image"),
		Tags:        getList(raw, "tags"),
		Langs:       getList(raw, "langs"),
		Score:       score,
		CreatedAt:   ts,
	}
	if src, ok := raw["sourcePost"].(map[string]any); ok {
		lr.Source = &SourcePost{
			URI:     syntax.ATURI(getString(src, "uri")),
			CID:     getString(src, "cid"),
			Author:  syntax.DID(getString(src, "author")),
			Excerpt: getString(src, "excerpt"),
		}
	}
	return &lr, nil
}

func ParseBookmarkRecord(raw map[string]any) (*BookmarkRecord, error) {
	if err := checkType(raw, BookmarkNSID); err != nil {
		return nil, err
	}
	subject := getString(raw, "subject")
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidRecord)
	}
	ts, err := getDatetime(raw)
	if err != nil {
		return nil, err
	}
	return &BookmarkRecord{
		Subject:      subject,
		Title:        getString(raw, "title"),
		Description:  getString(raw, "description"),
		Note:         getString(raw, "note"),
		Tags:         getList(raw, "tags"),
		PersonalTags: getList(raw, "personalTags"),
		Langs:        getList(raw, "langs"),
		CreatedAt:    ts,
	}, nil
}
