package main

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/skylinks/skylinks/atproto/auth/oauth"
	"github.com/skylinks/skylinks/atproto/identity"
	"github.com/skylinks/skylinks/atproto/syntax"
	"github.com/skylinks/skylinks/internal/store"
	"github.com/skylinks/skylinks/internal/syncer"
)

const (
	// Holds the in-flight AuthState between login and callback.
	loginCookie = "skylinks-login"

	// Holds the DID of the logged-in account.
	accountCookie = "skylinks"
)

type Server struct {
	echo    *echo.Echo
	httpd   *http.Server
	db      *gorm.DB
	cookies *sessions.CookieStore
	oauth   *oauth.ClientApp
	links   *store.LinkStore
	worker  *syncer.Worker
	logger  *slog.Logger
}

type ServerConfig struct {
	Bind string

	// Signs and encrypts cookies. Required.
	SessionSecret string

	// Bearer token for the /admin routes. Admin routes are not registered if empty.
	AdminToken string

	// Marks cookies Secure. Set when the service is reached over https.
	SecureCookies bool

	// HTTP metrics are registered here and served at /metrics. Defaults to the prometheus default registry.
	Metrics *prometheus.Registry

	// Receives a span per request. Defaults to the global provider.
	Tracing trace.TracerProvider
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Message string `json:"msg,omitempty"`
}

func runServe(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := configOTEL(ctx, "skylinks")
	if err != nil {
		return err
	}
	defer shutdownOTEL()

	svc, err := newServices(cctx)
	if err != nil {
		return err
	}
	sconfig, err := syncConfig(cctx)
	if err != nil {
		return err
	}
	if sconfig.Enabled && sconfig.ServiceDID == "" {
		slog.Warn("sync worker enabled without a service DID; cycles will be skipped")
	}
	worker := svc.newWorker(sconfig)

	srv, err := NewServer(ServerConfig{
		Bind:          cctx.String("bind"),
		SessionSecret: cctx.String("session-secret"),
		AdminToken:    cctx.String("admin-token"),
		SecureCookies: cctx.String("hostname") != "",
	}, svc.db, svc.oauth, svc.links, worker)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("starting server", "bind", srv.httpd.Addr)
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		return srv.Shutdown()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("graceful shutdown complete")
	return nil
}

func NewServer(config ServerConfig, db *gorm.DB, app *oauth.ClientApp, links *store.LinkStore, worker *syncer.Worker) (*Server, error) {
	if config.SessionSecret == "" {
		return nil, errors.New("session secret is required")
	}

	// separate keys for signing and encryption; the AuthState carries a private key
	hashKey := sha256.Sum256([]byte("hash:" + config.SessionSecret))
	blockKey := sha256.Sum256([]byte("block:" + config.SessionSecret))
	cookies := sessions.NewCookieStore(hashKey[:], blockKey[:])
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}

	e := echo.New()
	srv := &Server{
		echo:    e,
		db:      db,
		cookies: cookies,
		oauth:   app,
		links:   links,
		worker:  worker,
		logger:  slog.Default().With("component", "server"),
	}

	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(srv.logger))
	e.Use(middleware.Recover())
	var traceOpts []otelecho.Option
	if config.Tracing != nil {
		traceOpts = append(traceOpts, otelecho.WithTracerProvider(config.Tracing))
	}
	e.Use(otelecho.Middleware("skylinks", traceOpts...))
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if config.Metrics != nil {
		registerer, gatherer = config.Metrics, config.Metrics
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "skylinks",
		Registerer: registerer,
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: gatherer}))
	e.GET("/", srv.HandleHome)

	e.GET("/oauth/client-metadata.json", srv.HandleClientMetadata)
	e.GET("/oauth/login", srv.HandleLoginForm)
	e.POST("/oauth/login", srv.HandleLogin)
	e.GET("/oauth/callback", srv.HandleCallback)
	e.POST("/oauth/logout", srv.HandleLogout)

	if config.AdminToken != "" {
		admin := e.Group("/admin", middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, c echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(config.AdminToken)) == 1, nil
			},
			ErrorHandler: func(err error, c echo.Context) error {
				return echo.NewHTTPError(http.StatusUnauthorized, "admin token required")
			},
		}))
		admin.GET("/sync/stats", srv.HandleSyncStats)
		admin.POST("/sync/run", srv.HandleSyncRun)
		admin.POST("/sync/items/:id", srv.HandleSyncItem)
		admin.POST("/sync/items/:id/reset", srv.HandleSyncReset)
	} else {
		srv.logger.Info("admin token not configured; admin routes disabled")
	}

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.httpd.Shutdown(ctx)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("skylinks-http-internal-error", "path", c.Path(), "err", err)
	}
	if c.Response().Committed {
		return
	}
	if err := c.JSON(code, GenericStatus{Daemon: "skylinks", Status: "error", Message: msg}); err != nil {
		srv.logger.Error("writing error response", "err", err)
	}
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	status := GenericStatus{Daemon: "skylinks", Status: "ok", Version: versioninfo.Short()}
	sqldb, err := srv.db.DB()
	if err == nil {
		err = sqldb.PingContext(c.Request().Context())
	}
	if err != nil {
		srv.logger.Error("database health check failed", "err", err)
		status.Status = "error"
		status.Message = "database unavailable"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

func (srv *Server) HandleHome(c echo.Context) error {
	if did := srv.currentAccount(c); did != "" {
		return c.String(http.StatusOK, fmt.Sprintf("skylinks: logged in as %s\n", did))
	}
	return c.Redirect(http.StatusFound, "/oauth/login")
}

func (srv *Server) HandleClientMetadata(c echo.Context) error {
	return c.JSON(http.StatusOK, srv.oauth.Config.ClientMetadata())
}

const loginForm = `<!DOCTYPE html>
<html><head><title>skylinks login</title></head>
<body>
<form method="post" action="/oauth/login">
<label>Handle or DID <input type="text" name="username" required></label>
<button type="submit">Log in</button>
</form>
</body></html>
`

func (srv *Server) HandleLoginForm(c echo.Context) error {
	return c.HTML(http.StatusOK, loginForm)
}

func (srv *Server) HandleLogin(c echo.Context) error {
	ctx := c.Request().Context()

	username := c.FormValue("username")
	if username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username is required")
	}

	st, err := srv.oauth.StartAuthorization(ctx, username, "", "", "")
	if err != nil {
		srv.logger.Warn("OAuth login failed", "username", username, "err", err)
		switch {
		case errors.Is(err, syntax.ErrInvalidHandle), errors.Is(err, syntax.ErrInvalidDID):
			return echo.NewHTTPError(http.StatusBadRequest, "invalid handle or DID")
		case errors.Is(err, identity.ErrHandleNotFound), errors.Is(err, identity.ErrDIDNotFound):
			return echo.NewHTTPError(http.StatusBadRequest, "account not found")
		default:
			// the account may have moved; resolve it again on the next attempt
			srv.oauth.Identity.Purge(username)
			return echo.NewHTTPError(http.StatusBadGateway, "could not start login with account's server")
		}
	}

	blob, err := st.Encode()
	if err != nil {
		return err
	}
	sess, _ := srv.cookies.Get(c.Request(), loginCookie)
	sess.Values["auth_state"] = blob
	sess.Options.MaxAge = 600
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, st.AuthorizationURL)
}

func (srv *Server) HandleCallback(c echo.Context) error {
	ctx := c.Request().Context()

	if e := c.QueryParam("error"); e != "" {
		srv.logger.Info("authorization denied", "error", e, "description", c.QueryParam("error_description"))
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("authorization failed: %s", e))
	}

	login, _ := srv.cookies.Get(c.Request(), loginCookie)
	blob, ok := login.Values["auth_state"].(string)
	if !ok || blob == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no login in progress")
	}
	st, err := oauth.DecodeAuthState(blob)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no login in progress")
	}

	// the AuthState is single use
	login.Options.MaxAge = -1
	delete(login.Values, "auth_state")
	if err := login.Save(c.Request(), c.Response()); err != nil {
		return err
	}

	oauthSess, err := srv.oauth.ExchangeCode(ctx, st, c.QueryParam("code"), c.QueryParam("state"))
	if err != nil {
		srv.logger.Warn("OAuth callback failed", "did", st.DID, "err", err)
		if errors.Is(err, oauth.ErrStateMismatch) || errors.Is(err, oauth.ErrInvalidAuthState) {
			return echo.NewHTTPError(http.StatusBadRequest, "login state mismatch")
		}
		return echo.NewHTTPError(http.StatusBadGateway, "token exchange failed")
	}

	account, _ := srv.cookies.Get(c.Request(), accountCookie)
	account.Values["account_did"] = oauthSess.DID.String()
	if err := account.Save(c.Request(), c.Response()); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, "/")
}

func (srv *Server) HandleLogout(c echo.Context) error {
	ctx := c.Request().Context()

	if raw := srv.currentAccount(c); raw != "" {
		did, err := syntax.ParseDID(raw)
		if err == nil {
			if err := srv.oauth.Logout(ctx, did); err != nil {
				srv.logger.Error("failed to delete session", "did", did, "err", err)
			}
		}
	}

	account, _ := srv.cookies.Get(c.Request(), accountCookie)
	account.Values = make(map[any]any)
	account.Options.MaxAge = -1
	if err := account.Save(c.Request(), c.Response()); err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, "/")
}

func (srv *Server) currentAccount(c echo.Context) string {
	sess, err := srv.cookies.Get(c.Request(), accountCookie)
	if err != nil {
		return ""
	}
	did, _ := sess.Values["account_did"].(string)
	return did
}

type syncStatsResponse struct {
	Worker syncer.Stats     `json:"worker"`
	Links  map[string]int64 `json:"links"`
}

func (srv *Server) HandleSyncStats(c echo.Context) error {
	counts, err := srv.links.CountByStatus(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, syncStatsResponse{Worker: srv.worker.Stats(), Links: counts})
}

type cycleResponse struct {
	Skipped   bool   `json:"skipped"`
	Attempted int    `json:"attempted"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

func newCycleResponse(res syncer.CycleResult, err error) cycleResponse {
	out := cycleResponse{
		Skipped:   res.Skipped,
		Attempted: res.Attempted,
		Synced:    res.Synced,
		Failed:    res.Failed,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func (srv *Server) HandleSyncRun(c echo.Context) error {
	res, err := srv.worker.RunCycle(c.Request().Context())
	out := newCycleResponse(res, err)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, syncer.ErrNoServiceSession) {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, out)
	}
	return c.JSON(http.StatusOK, out)
}

type linkResponse struct {
	ID         uint       `json:"id"`
	URL        string     `json:"url"`
	Score      int64      `json:"score"`
	SyncStatus string     `json:"syncStatus"`
	RepoURI    string     `json:"repoUri,omitempty"`
	RepoRev    string     `json:"repoRev,omitempty"`
	SyncedAt   *time.Time `json:"syncedAt,omitempty"`
}

func newLinkResponse(l *store.Link) linkResponse {
	return linkResponse{
		ID:         l.ID,
		URL:        l.URL,
		Score:      l.Score,
		SyncStatus: l.Status(),
		RepoURI:    l.RepoURI,
		RepoRev:    l.RepoRev,
		SyncedAt:   l.SyncedAt,
	}
}

func parseLinkID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid link id")
	}
	return uint(id), nil
}

func (srv *Server) HandleSyncItem(c echo.Context) error {
	id, err := parseLinkID(c)
	if err != nil {
		return err
	}
	link, err := srv.worker.SyncItem(c.Request().Context(), id)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, newLinkResponse(link))
	case errors.Is(err, store.ErrLinkNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "link not found")
	case errors.Is(err, syncer.ErrAlreadySynced):
		return c.JSON(http.StatusConflict, newLinkResponse(link))
	case errors.Is(err, syncer.ErrNoServiceSession):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

func (srv *Server) HandleSyncReset(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := parseLinkID(c)
	if err != nil {
		return err
	}
	if err := srv.links.ResetFailed(ctx, id); err != nil {
		if errors.Is(err, store.ErrLinkNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no failed link with that id")
		}
		return err
	}
	link, err := srv.links.GetLink(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newLinkResponse(link))
}
