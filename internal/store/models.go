package store

import (
	"time"

	"github.com/skylinks/skylinks/api/links"
	"github.com/skylinks/skylinks/atproto/syntax"
)

// Sync status values for [Link]. An empty status is treated the same as StatusPending.
const (
	StatusPending = "pending"
	StatusSynced  = "synced"
	StatusFailed  = "failed"
)

// Stored OAuth session, one row per account.
type OAuthSession struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	DID          string `gorm:"column:did;uniqueIndex;not null"`
	Handle       string
	AccessToken  string
	RefreshToken string

	// Private JWK, as JSON
	DPoPKey []byte `gorm:"column:dpop_key"`

	PDSURL              string `gorm:"column:pds_url"`
	AuthServerURL       string `gorm:"column:auth_server_url"`
	Scope               string
	ExpiresAt           *time.Time
	AuthServerNonce     string
	ResourceServerNonce string
}

func (OAuthSession) TableName() string {
	return "oauth_sessions"
}

// Candidate link, written by the ingestion pipeline and published by the sync worker.
type Link struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time

	URL         string `gorm:"column:url;not null"`
	Title       string
	Description string
	Domain      string
	Image       string
	Tags        []string `gorm:"serializer:json"`
	Langs       []string `gorm:"serializer:json"`
	Score       int64    `gorm:"index"`

	SourceURI     string `gorm:"column:source_uri"`
	SourceCID     string `gorm:"column:source_cid"`
	SourceAuthor  string
	SourceExcerpt string

	SyncStatus string `gorm:"index"`
	RepoURI    string `gorm:"column:repo_uri"`
	RepoRev    string `gorm:"column:repo_rev"`
	SyncedAt   *time.Time
}

// Wire record for this link.
func (l *Link) Record() *links.LinkRecord {
	rec := links.LinkRecord{
		URL:         l.URL,
		Title:       l.Title,
		Description: l.Description,
		Domain:      l.Domain,
		Image:       l.Image,
		Tags:        l.Tags,
		Langs:       l.Langs,
		Score:       l.Score,
		CreatedAt:   l.CreatedAt,
	}
	if l.SourceURI != "" {
		rec.Source = &links.SourcePost{
			URI:     syntax.ATURI(l.SourceURI),
			CID:     l.SourceCID,
			Author:  syntax.DID(l.SourceAuthor),
			Excerpt: l.SourceExcerpt,
		}
	}
	return &rec
}

// Status with the empty value normalized to StatusPending.
func (l *Link) Status() string {
	if l.SyncStatus == "" {
		return StatusPending
	}
	return l.SyncStatus
}
