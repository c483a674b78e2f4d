package cache

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Open creates the named backend. dir is used by the file-based backends
// and dsn by postgres. BackendNone returns a nil backend and no error.
func Open(ctx context.Context, name, dir, dsn string, logger *slog.Logger) (Backend, error) {
	switch name {
	case BackendNone, "":
		return nil, nil
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendSQLite:
		return OpenSQLite(dir)
	case BackendBadger:
		return OpenBadger(filepath.Join(dir, "badger"))
	case BackendPostgres:
		return OpenPostgres(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}
