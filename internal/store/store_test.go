package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/skylinks/skylinks/atproto/auth/oauth"
	"github.com/skylinks/skylinks/atproto/syntax"
)

func testDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	// each connection to ":memory:" is a separate database
	sqldb.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	return db
}

func testSession(t *testing.T, did syntax.DID) *oauth.Session {
	key, err := oauth.GenerateDPoPKey()
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	return &oauth.Session{
		DID:             did,
		Handle:          "alice.test",
		AccessToken:     "access",
		RefreshToken:    "refresh",
		DPoPKey:         key,
		PDSURL:          "https://pds.example",
		AuthServerURL:   "https://auth.example",
		Scope:           "atproto transition:generic",
		ExpiresAt:       &exp,
		AuthServerNonce: "as-nonce",
	}
}

func TestSessionStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewSessionStore(testDB(t))

	_, err := s.GetSession(ctx, "did:plc:alice")
	assert.ErrorIs(err, oauth.ErrSessionNotFound)

	sess := testSession(t, "did:plc:alice")
	require.NoError(t, s.SaveSession(ctx, sess))

	got, err := s.GetSession(ctx, "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(sess.AccessToken, got.AccessToken)
	assert.Equal(sess.Handle, got.Handle)
	assert.Equal(sess.PDSURL, got.PDSURL)
	assert.Equal(sess.AuthServerNonce, got.AuthServerNonce)
	assert.Empty(got.ResourceServerNonce)
	require.NotNil(t, got.ExpiresAt)
	assert.True(sess.ExpiresAt.Equal(*got.ExpiresAt))
	assert.True(sess.DPoPKey.PublicKey().Equal(got.DPoPKey.PublicKey()))

	// upsert by DID
	sess.AccessToken = "access-2"
	sess.ResourceServerNonce = "rs-nonce"
	require.NoError(t, s.SaveSession(ctx, sess))
	got, err = s.GetSession(ctx, "did:plc:alice")
	require.NoError(t, err)
	assert.Equal("access-2", got.AccessToken)
	assert.Equal("rs-nonce", got.ResourceServerNonce)

	require.NoError(t, s.SaveSession(ctx, testSession(t, "did:plc:bob")))
	dids, err := s.ListSessionDIDs(ctx)
	require.NoError(t, err)
	assert.Equal([]syntax.DID{"did:plc:alice", "did:plc:bob"}, dids)

	require.NoError(t, s.DeleteSession(ctx, "did:plc:alice"))
	require.NoError(t, s.DeleteSession(ctx, "did:plc:alice"))
	_, err = s.GetSession(ctx, "did:plc:alice")
	assert.ErrorIs(err, oauth.ErrSessionNotFound)

	assert.Error(s.SaveSession(ctx, &oauth.Session{DID: "did:plc:nokey"}))
}

func TestSelectSyncable(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewLinkStore(testDB(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := []Link{
		{URL: "https://a.example", Score: 60, CreatedAt: base.Add(2 * time.Hour)},
		{URL: "https://b.example", Score: 90, CreatedAt: base.Add(3 * time.Hour)},
		{URL: "https://c.example", Score: 60, CreatedAt: base.Add(1 * time.Hour), SyncStatus: StatusPending},
		{URL: "https://low.example", Score: 49, CreatedAt: base},
		{URL: "https://failed.example", Score: 99, CreatedAt: base, SyncStatus: StatusFailed},
		{URL: "https://done.example", Score: 99, CreatedAt: base, SyncStatus: StatusSynced, RepoURI: "at://did:plc:svc/app.skylinks.link/x"},
		{URL: "https://odd.example", Score: 99, CreatedAt: base, RepoURI: "at://did:plc:svc/app.skylinks.link/y"},
		{URL: "https://edge.example", Score: 50, CreatedAt: base},
	}
	for i := range seed {
		require.NoError(t, s.InsertLink(ctx, &seed[i]))
	}

	got, err := s.SelectSyncable(ctx, 50, 20)
	require.NoError(t, err)
	var urls []string
	for _, l := range got {
		urls = append(urls, l.URL)
	}
	assert.Equal([]string{"https://b.example", "https://c.example", "https://a.example", "https://edge.example"}, urls)

	got, err = s.SelectSyncable(ctx, 50, 2)
	require.NoError(t, err)
	assert.Len(got, 2)
}

func TestMarkLinks(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewLinkStore(testDB(t))

	l := Link{URL: "https://a.example", Score: 70, Tags: []string{"go", "atproto"}}
	require.NoError(t, s.InsertLink(ctx, &l))
	other := Link{URL: "https://b.example", Score: 70}
	require.NoError(t, s.InsertLink(ctx, &other))

	got, err := s.GetLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal([]string{"go", "atproto"}, got.Tags)
	assert.Equal(StatusPending, got.Status())

	ts := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.MarkSynced(ctx, l.ID, "at://did:plc:svc/app.skylinks.link/3kao2cl6lyj2p", "3kao2cl6mfu2p", ts))
	got, err = s.GetLink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(StatusSynced, got.SyncStatus)
	assert.Equal("at://did:plc:svc/app.skylinks.link/3kao2cl6lyj2p", got.RepoURI)
	assert.Equal("3kao2cl6mfu2p", got.RepoRev)
	require.NotNil(t, got.SyncedAt)
	assert.True(ts.Equal(*got.SyncedAt))

	require.NoError(t, s.MarkFailed(ctx, other.ID, ""))
	syncable, err := s.SelectSyncable(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(syncable)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(map[string]int64{StatusSynced: 1, StatusFailed: 1}, counts)

	require.NoError(t, s.ResetFailed(ctx, other.ID))
	assert.ErrorIs(s.ResetFailed(ctx, other.ID), ErrLinkNotFound)
	syncable, err = s.SelectSyncable(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, syncable, 1)
	assert.Equal(other.ID, syncable[0].ID)

	_, err = s.GetLink(ctx, 999)
	assert.ErrorIs(err, ErrLinkNotFound)
	assert.ErrorIs(s.MarkFailed(ctx, 999, StatusFailed), ErrLinkNotFound)
}

func TestLinkRecord(t *testing.T) {
	assert := assert.New(t)
	l := Link{
		URL:          "https://a.example",
		Title:        "A",
		Score:        80,
		SourceURI:    "at://did:plc:author/app.bsky.feed.post/3kao2cl6lyj2p",
		SourceAuthor: "did:plc:author",
		CreatedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	rec := l.Record().Record()
	assert.Equal("app.skylinks.link", rec["$type"])
	assert.Equal(int64(80), rec["score"])
	assert.Equal("2025-01-01T00:00:00.000Z", rec["createdAt"])
	assert.Contains(rec, "sourcePost")

	l.SourceURI = ""
	assert.NotContains(l.Record().Record(), "sourcePost")
}

func TestEnableTracing(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testDB(t)
	spans := tracetest.NewSpanRecorder()
	require.NoError(t, EnableTracing(db, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))))

	s := NewLinkStore(db)
	l := Link{URL: "https://a.example", Score: 70}
	require.NoError(t, s.InsertLink(ctx, &l))
	_, err := s.GetLink(ctx, l.ID)
	require.NoError(t, err)

	assert.GreaterOrEqual(len(spans.Ended()), 2)
}
