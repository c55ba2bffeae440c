package db

import "context"

// SchemaInterface tells the version of the database schema.
type SchemaInterface interface {
	// Version returns the version recorded in schema_version. It is 0 for an empty database.
	Version(ctx context.Context) (int, error)

	// Upgrade applies versions in the schema repository newer than the database.
	Upgrade(ctx context.Context) error

	// Require fails unless the database is at least at version min.
	Require(ctx context.Context, min int) error

	// Context derives a context which is cancelled once the schema repository
	// has a version newer than the database.
	//
	// Without a schema repository, it only derives a cancellable context.
	Context(ctx context.Context) (context.Context, context.CancelFunc)
}
