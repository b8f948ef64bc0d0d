package tasks

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"logingate/internal/audit"
)

// Archiver is satisfied by *storage.ObjectStore.
type Archiver interface {
	ArchiveEvent(ctx context.Context, event audit.Event) error
}

// Processor turns audit stream entries into archived objects.
type Processor struct {
	archiver Archiver
	logger   zerolog.Logger
}

func NewProcessor(archiver Archiver, logger zerolog.Logger) *Processor {
	return &Processor{
		archiver: archiver,
		logger:   logger,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	event, err := audit.FromValues(msg.Values)
	if err != nil {
		// A malformed entry would never decode; drop it instead of retrying forever.
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("skipping malformed audit event")
		return nil
	}
	if event.ID == "" {
		event.ID = msg.ID
	}

	if err := p.archiver.ArchiveEvent(ctx, event); err != nil {
		return fmt.Errorf("archive event %s: %w", event.ID, err)
	}
	p.logger.Debug().
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Msg("audit event archived")
	return nil
}
