package services

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/events"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/kinds"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/qengine"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/validator"
)

type serviceManager struct {
	repo      repositories.Repository
	publisher events.Publisher

	attempt AttemptService
	export  ExportService
}

// NewServiceManager wires every service over one repository, question engine
// and event publisher.
func NewServiceManager(
	db *gorm.DB,
	repo repositories.Repository,
	publisher events.Publisher,
	logger *slog.Logger,
) ServiceManager {
	registry := kinds.Default()
	v := validator.New()
	engine := qengine.New(db)

	return &serviceManager{
		repo:      repo,
		publisher: publisher,
		attempt:   NewAttemptService(db, repo, engine, publisher, registry, v, logger),
		export:    NewExportService(repo, logger),
	}
}

func (m *serviceManager) Attempt() AttemptService {
	return m.attempt
}

func (m *serviceManager) Export() ExportService {
	return m.export
}

func (m *serviceManager) HealthCheck(ctx context.Context) error {
	return m.repo.Ping(ctx)
}

func (m *serviceManager) Shutdown() error {
	return m.publisher.Close()
}
