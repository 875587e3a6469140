package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"cogs.ai/internal/persistence/indexdb"
	"cogs.ai/internal/sim/arena"
	"cogs.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	arena.Recorder
	Close() error
	UpsertTuning(tune tuning.Tuning) error
	Episodes(ctx context.Context, limit int) ([]indexdb.EpisodeRow, error)
	Stats() indexdb.Stats
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("COGS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "episodes.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, errors.Errorf("unsupported COGS_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
