// Package service wires the observation store writer and the alert index
// writer behind the fan-out router.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
	"github.com/telhawk-systems/signalhawk/common/models"
	"github.com/telhawk-systems/signalhawk/dispatch"
	"github.com/telhawk-systems/signalhawk/ingest/internal/store"
)

// Writer persists observation records.
type Writer interface {
	Write(ctx context.Context, env models.Envelope) error
}

// Indexer indexes alert records.
type Indexer interface {
	Index(ctx context.Context, env models.Envelope) error
}

type IngestService struct {
	store  Writer
	index  Indexer
	logger *logging.Logger
}

func NewIngestService(store Writer, index Indexer, logger *logging.Logger) *IngestService {
	return &IngestService{store: store, index: index, logger: logger}
}

// Register subscribes the writers to their categories: observations and
// rare observations are stored, alerts are indexed.
func (s *IngestService) Register(r *dispatch.Router) {
	r.Register("observation-store", dispatch.ConsumerFunc(s.StoreObservation),
		models.CategoryObservation, models.CategoryRareObservation)
	r.Register("alert-index", dispatch.ConsumerFunc(s.IndexAlert),
		models.CategoryAlert)
}

// StoreObservation writes env to the observation store. A record that is
// already stored counts as success so redeliveries are harmless.
func (s *IngestService) StoreObservation(ctx context.Context, env models.Envelope) error {
	err := s.store.Write(ctx, env)
	switch {
	case err == nil:
		metrics.StoreWrites.WithLabelValues("written").Inc()
		s.logger.InfoContext(ctx, "observation stored", logging.Category(env.Category.String()))
		return nil
	case errors.Is(err, store.ErrDuplicateKey):
		metrics.StoreWrites.WithLabelValues("duplicate").Inc()
		s.logger.InfoContext(ctx, "observation already stored, skipping")
		return nil
	default:
		metrics.StoreWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("store observation %s: %w", env.ID, err)
	}
}

// IndexAlert writes env to the alert index.
func (s *IngestService) IndexAlert(ctx context.Context, env models.Envelope) error {
	if err := s.index.Index(ctx, env); err != nil {
		metrics.IndexWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("index alert %s: %w", env.ID, err)
	}
	metrics.IndexWrites.WithLabelValues("indexed").Inc()
	s.logger.InfoContext(ctx, "alert indexed", logging.Signal(env.Event.Type))
	return nil
}
