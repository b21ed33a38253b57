package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"

	"github.com/skylinks/skylinks/util/cliutil"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "skylinks",
		Usage:   "atproto OAuth login service and link publisher",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log verbosity level (eg: warn, info, debug)",
				EnvVars: []string{"SKYLINKS_LOG_LEVEL", "LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log output format: text or json",
				Value:   "text",
				EnvVars: []string{"SKYLINKS_LOG_FMT", "LOG_FORMAT"},
			},
		},
		Before: func(cctx *cli.Context) error {
			_, err := cliutil.SetupSlog(cliutil.LogOptions{
				LogLevel:  cctx.String("log-level"),
				LogFormat: cctx.String("log-format"),
				Output:    os.Stderr,
			})
			return err
		},
	}

	databaseFlag := &cli.StringFlag{
		Name:    "database-url",
		Usage:   "database connection string: sqlite://<path> or postgres://...",
		Value:   "sqlite://data/skylinks.sqlite",
		EnvVars: []string{"DATABASE_URL"},
	}
	identityFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "plc-host",
			Usage:   "method, hostname, and port of PLC registry",
			Value:   "https://plc.directory",
			EnvVars: []string{"ATP_PLC_HOST"},
		},
		&cli.StringFlag{
			Name:    "handle-resolver-host",
			Usage:   "service used to resolve handles to DIDs",
			Value:   "https://bsky.social",
			EnvVars: []string{"SKYLINKS_HANDLE_RESOLVER_HOST"},
		},
		&cli.IntFlag{
			Name:    "plc-rate-limit",
			Usage:   "max number of requests per second to PLC registry (0 for no limit)",
			Value:   100,
			EnvVars: []string{"SKYLINKS_PLC_RATE_LIMIT"},
		},
	}
	oauthFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "hostname",
			Usage:   "public host name for this client; empty means localhost development mode",
			EnvVars: []string{"CLIENT_HOSTNAME"},
		},
		&cli.StringFlag{
			Name:    "client-name",
			Usage:   "client name shown on the authorization page",
			Value:   "skylinks",
			EnvVars: []string{"SKYLINKS_CLIENT_NAME"},
		},
		&cli.StringFlag{
			Name:    "scope",
			Usage:   "OAuth scope requested at login",
			Value:   "atproto transition:generic",
			EnvVars: []string{"SKYLINKS_OAUTH_SCOPE"},
		},
	}
	syncFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "service-did",
			Usage:   "DID of the account links are published to; it must have logged in",
			EnvVars: []string{"SKYLINKS_SERVICE_DID"},
		},
		&cli.Int64Flag{
			Name:    "sync-min-score",
			Usage:   "minimum link score for publishing",
			Value:   50,
			EnvVars: []string{"SKYLINKS_SYNC_MIN_SCORE"},
		},
		&cli.IntFlag{
			Name:    "sync-batch-size",
			Usage:   "max links published per cycle",
			Value:   20,
			EnvVars: []string{"SKYLINKS_SYNC_BATCH_SIZE"},
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "run the HTTP service and the sync worker",
			Action: runServe,
			Flags: concatFlags(
				[]cli.Flag{
					databaseFlag,
					&cli.BoolFlag{
						Name:    "db-tracing",
						Usage:   "record an OpenTelemetry span for each database query",
						EnvVars: []string{"SKYLINKS_DB_TRACING"},
					},
					&cli.StringFlag{
						Name:    "bind",
						Usage:   "local IP/port to bind to",
						Value:   ":8080",
						EnvVars: []string{"SKYLINKS_BIND"},
					},
					&cli.StringFlag{
						Name:     "session-secret",
						Usage:    "random string used to sign and encrypt cookies",
						Required: true,
						EnvVars:  []string{"SESSION_SECRET"},
					},
					&cli.StringFlag{
						Name:    "admin-token",
						Usage:   "bearer token for /admin endpoints; admin endpoints are disabled if empty",
						EnvVars: []string{"SKYLINKS_ADMIN_TOKEN"},
					},
					&cli.BoolFlag{
						Name:    "sync-enabled",
						Usage:   "run the periodic sync worker",
						Value:   true,
						EnvVars: []string{"SKYLINKS_SYNC_ENABLED"},
					},
					&cli.DurationFlag{
						Name:    "sync-interval",
						Usage:   "time between sync cycles",
						Value:   60 * time.Second,
						EnvVars: []string{"SKYLINKS_SYNC_INTERVAL"},
					},
					&cli.DurationFlag{
						Name:    "sync-initial-delay",
						Usage:   "delay before the first sync cycle",
						Value:   5 * time.Second,
						EnvVars: []string{"SKYLINKS_SYNC_INITIAL_DELAY"},
					},
				},
				identityFlags, oauthFlags, syncFlags,
			),
		},
		{
			Name:  "sync",
			Usage: "operational commands for the sync worker",
			Subcommands: []*cli.Command{
				{
					Name:   "run-once",
					Usage:  "run a single sync cycle and exit",
					Action: runSyncOnce,
					Flags:  concatFlags([]cli.Flag{databaseFlag}, identityFlags, oauthFlags, syncFlags),
				},
				{
					Name:      "item",
					Usage:     "publish one link by ID, regardless of score",
					ArgsUsage: "<link-id>",
					Action:    runSyncItem,
					Flags:     concatFlags([]cli.Flag{databaseFlag}, identityFlags, oauthFlags, syncFlags),
				},
				{
					Name:      "reset",
					Usage:     "return a failed link to the pending state",
					ArgsUsage: "<link-id>",
					Action:    runSyncReset,
					Flags:     []cli.Flag{databaseFlag},
				},
				{
					Name:   "status",
					Usage:  "count links by sync status",
					Action: runSyncStatus,
					Flags:  []cli.Flag{databaseFlag},
				},
			},
		},
		{
			Name:  "session",
			Usage: "inspect stored OAuth sessions",
			Subcommands: []*cli.Command{
				{
					Name:   "list",
					Usage:  "list account DIDs with stored sessions",
					Action: runSessionList,
					Flags:  []cli.Flag{databaseFlag},
				},
				{
					Name:      "refresh",
					Usage:     "refresh the tokens of a stored session",
					ArgsUsage: "<did>",
					Action:    runSessionRefresh,
					Flags:     concatFlags([]cli.Flag{databaseFlag}, identityFlags, oauthFlags),
				},
			},
		},
		{
			Name:  "tid",
			Usage: "generate and inspect record keys",
			Subcommands: []*cli.Command{
				{
					Name:   "generate",
					Usage:  "print a new TID",
					Action: runTIDGenerate,
					Flags: []cli.Flag{
						&cli.IntFlag{
							Name:  "clock-id",
							Usage: "clock identifier (0-1023); random if negative",
							Value: -1,
						},
						&cli.IntFlag{
							Name:  "count",
							Usage: "number of TIDs to print",
							Value: 1,
						},
					},
				},
				{
					Name:      "parse",
					Usage:     "print the timestamp and clock ID of a TID",
					ArgsUsage: "<tid>",
					Action:    runTIDParse,
				},
			},
		},
		{
			Name:      "resolve",
			Usage:     "resolve an account and discover its authorization server",
			ArgsUsage: "<handle-or-did>",
			Action:    runResolve,
			Flags:     identityFlags,
		},
	}
	return app.Run(args)
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func requireArg(cctx *cli.Context, name string) (string, error) {
	s := cctx.Args().First()
	if s == "" {
		return "", fmt.Errorf("need to provide %s as an argument", name)
	}
	return s, nil
}
