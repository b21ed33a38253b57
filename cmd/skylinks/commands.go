package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/skylinks/skylinks/atproto/auth/oauth"
	"github.com/skylinks/skylinks/atproto/syntax"
	"github.com/skylinks/skylinks/internal/store"
)

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(b))
	return nil
}

func runSyncOnce(cctx *cli.Context) error {
	ctx := cctx.Context
	svc, err := newServices(cctx)
	if err != nil {
		return err
	}
	config, err := syncConfig(cctx)
	if err != nil {
		return err
	}
	if config.ServiceDID == "" {
		return errors.New("--service-did is required")
	}

	res, err := svc.newWorker(config).RunCycle(ctx)
	if err != nil {
		return err
	}
	return printJSON(newCycleResponse(res, nil))
}

func parseLinkArg(cctx *cli.Context) (uint, error) {
	raw, err := requireArg(cctx, "link ID")
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid link ID %q: %w", raw, err)
	}
	return uint(id), nil
}

func runSyncItem(cctx *cli.Context) error {
	ctx := cctx.Context
	id, err := parseLinkArg(cctx)
	if err != nil {
		return err
	}
	svc, err := newServices(cctx)
	if err != nil {
		return err
	}
	config, err := syncConfig(cctx)
	if err != nil {
		return err
	}

	link, err := svc.newWorker(config).SyncItem(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(newLinkResponse(link))
}

func runSyncReset(cctx *cli.Context) error {
	ctx := cctx.Context
	id, err := parseLinkArg(cctx)
	if err != nil {
		return err
	}
	db, err := openDB(cctx)
	if err != nil {
		return err
	}
	links := store.NewLinkStore(db)
	if err := links.ResetFailed(ctx, id); err != nil {
		return err
	}
	link, err := links.GetLink(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(newLinkResponse(link))
}

func runSyncStatus(cctx *cli.Context) error {
	db, err := openDB(cctx)
	if err != nil {
		return err
	}
	counts, err := store.NewLinkStore(db).CountByStatus(cctx.Context)
	if err != nil {
		return err
	}
	return printJSON(counts)
}

func runSessionList(cctx *cli.Context) error {
	db, err := openDB(cctx)
	if err != nil {
		return err
	}
	dids, err := store.NewSessionStore(db).ListSessionDIDs(cctx.Context)
	if err != nil {
		return err
	}
	for _, did := range dids {
		fmt.Println(did)
	}
	return nil
}

type sessionSummary struct {
	DID       syntax.DID    `json:"did"`
	Handle    syntax.Handle `json:"handle,omitempty"`
	PDS       string        `json:"pds"`
	Scope     string        `json:"scope"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
}

func runSessionRefresh(cctx *cli.Context) error {
	ctx := cctx.Context
	raw, err := requireArg(cctx, "account DID")
	if err != nil {
		return err
	}
	did, err := syntax.ParseDID(raw)
	if err != nil {
		return err
	}
	svc, err := newServices(cctx)
	if err != nil {
		return err
	}

	sess, err := svc.sessions.GetSession(ctx, did)
	if err != nil {
		return err
	}
	if err := svc.oauth.RefreshSession(ctx, sess); err != nil {
		return err
	}
	if err := svc.sessions.SaveSession(ctx, sess); err != nil {
		return err
	}
	return printJSON(summarizeSession(sess))
}

func summarizeSession(sess *oauth.Session) sessionSummary {
	return sessionSummary{
		DID:       sess.DID,
		Handle:    sess.Handle,
		PDS:       sess.PDSURL,
		Scope:     sess.Scope,
		ExpiresAt: sess.ExpiresAt,
	}
}

func runTIDGenerate(cctx *cli.Context) error {
	var gen *syntax.TIDGenerator
	clockID := cctx.Int("clock-id")
	switch {
	case clockID < 0:
		var err error
		gen, err = syntax.NewRandomTIDGenerator()
		if err != nil {
			return err
		}
	case clockID > 1023:
		return errors.New("clock ID must be between 0 and 1023")
	default:
		gen = syntax.NewTIDGenerator(uint(clockID))
	}

	for i := 0; i < cctx.Int("count"); i++ {
		fmt.Println(gen.Next())
	}
	return nil
}

func runTIDParse(cctx *cli.Context) error {
	raw, err := requireArg(cctx, "TID")
	if err != nil {
		return err
	}
	tid, err := syntax.ParseTID(raw)
	if err != nil {
		return err
	}
	ts, err := tid.Datetime()
	if err != nil {
		return err
	}
	clockID, err := tid.ClockID()
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"tid":       tid.String(),
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
		"clockId":   clockID,
	})
}

type resolveResult struct {
	DID           syntax.DID    `json:"did"`
	Handle        syntax.Handle `json:"handle,omitempty"`
	PDS           string        `json:"pds"`
	AuthServerURL string        `json:"authServer"`
	Issuer        string        `json:"issuer"`
	PAREndpoint   string        `json:"parEndpoint"`
	TokenEndpoint string        `json:"tokenEndpoint"`
}

func runResolve(cctx *cli.Context) error {
	ctx := cctx.Context
	raw, err := requireArg(cctx, "handle or DID")
	if err != nil {
		return err
	}

	ident, err := newDirectory(cctx).ResolveIdentity(ctx, raw)
	if err != nil {
		return err
	}
	info, err := oauth.DefaultResolver().DiscoverAuthServer(ctx, ident.PDSEndpoint)
	if err != nil {
		return err
	}
	return printJSON(resolveResult{
		DID:           ident.DID,
		Handle:        ident.Handle,
		PDS:           ident.PDSEndpoint,
		AuthServerURL: info.AuthServerURL,
		Issuer:        info.Auth.Issuer,
		PAREndpoint:   info.Auth.PushedAuthorizationRequestEndpoint,
		TokenEndpoint: info.Auth.TokenEndpoint,
	})
}
