// Package store persists OAuth sessions and candidate links with gorm, on sqlite or postgres.
package store

import (
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/skylinks/skylinks/util/cliutil"
)

// Opens the database at dburl and migrates the schema.
func Open(dburl string, maxConnections int) (*gorm.DB, error) {
	db, err := cliutil.SetupDatabase(dburl, maxConnections)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Records a span for every query, as a child of the span in the query's context.
func EnableTracing(db *gorm.DB, tp trace.TracerProvider) error {
	return db.Use(tracing.NewPlugin(tracing.WithTracerProvider(tp)))
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&OAuthSession{}, &Link{})
}
