package mirror

import (
	"context"
	"fmt"
	"time"

	"attendance.service/internal/config"
	"github.com/rs/zerolog/log"
)

const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Open returns the mirror configured by MIRROR_BACKEND and a func that releases it.
func Open(ctx context.Context, cfg config.Config) (Store, func(), error) {
	switch cfg.MirrorBackend {
	case BackendMemory:
		log.Warn().Msg("Using in-process mirror store; live status is not shared between processes")
		return NewMemoryStore(), func() {}, nil
	case BackendMongo:
		store, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				log.Error().Err(err).Msg("Failed to disconnect from mirror store")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported MIRROR_BACKEND %q", cfg.MirrorBackend)
	}
}
