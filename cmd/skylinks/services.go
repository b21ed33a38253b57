package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/skylinks/skylinks/atproto/auth/oauth"
	"github.com/skylinks/skylinks/atproto/client"
	"github.com/skylinks/skylinks/atproto/identity"
	"github.com/skylinks/skylinks/atproto/syntax"
	"github.com/skylinks/skylinks/internal/store"
	"github.com/skylinks/skylinks/internal/syncer"
)

// Components shared by the service and the operational commands.
type services struct {
	db       *gorm.DB
	sessions *store.SessionStore
	links    *store.LinkStore
	dir      *identity.Resolver
	oauth    *oauth.ClientApp
	client   *client.Client
}

func openDB(cctx *cli.Context) (*gorm.DB, error) {
	db, err := store.Open(cctx.String("database-url"), 20)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cctx.Bool("db-tracing") {
		if err := store.EnableTracing(db, otel.GetTracerProvider()); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func newDirectory(cctx *cli.Context) *identity.Resolver {
	dir := identity.DefaultResolver()
	if h := cctx.String("plc-host"); h != "" {
		dir.PLCURL = h
	}
	if h := cctx.String("handle-resolver-host"); h != "" {
		dir.HandleResolverURL = h
	}
	if n := cctx.Int("plc-rate-limit"); n > 0 {
		dir.PLCLimiter = rate.NewLimiter(rate.Limit(n), 1)
	}
	return dir
}

// With a public hostname the client metadata is served by this service. Without one, the atproto loopback client ID for local development is used.
func newClientConfig(hostname, bind, scope, name string) (oauth.ClientConfig, error) {
	if scope == "" {
		scope = oauth.DefaultScope
	}
	if hostname != "" {
		return oauth.ClientConfig{
			ClientID:    fmt.Sprintf("https://%s/oauth/client-metadata.json", hostname),
			RedirectURI: fmt.Sprintf("https://%s/oauth/callback", hostname),
			Scope:       scope,
			ClientName:  name,
			ClientURI:   fmt.Sprintf("https://%s", hostname),
		}, nil
	}

	port := "8080"
	if bind != "" {
		_, p, err := net.SplitHostPort(bind)
		if err != nil {
			return oauth.ClientConfig{}, fmt.Errorf("parsing bind address: %w", err)
		}
		if p != "" {
			port = p
		}
	}
	redirect := fmt.Sprintf("http://127.0.0.1:%s/oauth/callback", port)
	q := url.Values{}
	q.Set("redirect_uri", redirect)
	q.Set("scope", scope)
	return oauth.ClientConfig{
		ClientID:    "http://localhost?" + q.Encode(),
		RedirectURI: redirect,
		Scope:       scope,
		ClientName:  name,
	}, nil
}

func newServices(cctx *cli.Context) (*services, error) {
	db, err := openDB(cctx)
	if err != nil {
		return nil, err
	}
	config, err := newClientConfig(cctx.String("hostname"), cctx.String("bind"), cctx.String("scope"), cctx.String("client-name"))
	if err != nil {
		return nil, err
	}

	svc := services{
		db:       db,
		sessions: store.NewSessionStore(db),
		links:    store.NewLinkStore(db),
		dir:      newDirectory(cctx),
	}
	svc.oauth = oauth.NewClientApp(config, svc.dir, svc.sessions)
	svc.client, err = client.NewClient(svc.sessions, svc.oauth)
	if err != nil {
		return nil, err
	}
	slog.Debug("configured OAuth client", "client_id", config.ClientID, "redirect_uri", config.RedirectURI)
	return &svc, nil
}

func syncConfig(cctx *cli.Context) (syncer.Config, error) {
	config := syncer.DefaultConfig()
	if cctx.IsSet("sync-enabled") {
		config.Enabled = cctx.Bool("sync-enabled")
	}
	if cctx.IsSet("sync-interval") {
		config.Interval = cctx.Duration("sync-interval")
	}
	if cctx.IsSet("sync-initial-delay") {
		config.InitialDelay = cctx.Duration("sync-initial-delay")
	}
	config.MinScore = cctx.Int64("sync-min-score")
	config.BatchSize = cctx.Int("sync-batch-size")
	if raw := cctx.String("service-did"); raw != "" {
		did, err := syntax.ParseDID(raw)
		if err != nil {
			return config, fmt.Errorf("invalid service DID: %w", err)
		}
		config.ServiceDID = did
	}
	return config, nil
}

func (svc *services) newWorker(config syncer.Config) *syncer.Worker {
	return syncer.NewWorker(config, svc.links, svc.client, svc.client, svc.client.TIDs, slog.Default())
}
