package placeholders

import (
	"github.com/sirupsen/logrus"

	"github.com/kai-sub/gitlab/modules/placeholders/infrastructure/persistence"
	"github.com/kai-sub/gitlab/modules/placeholders/services"
	"github.com/kai-sub/gitlab/pkg/configuration"
)

// Module wires the Postgres repositories into the reassignment service.
type Module struct {
	Service     *services.ReassignmentService
	SourceUsers *persistence.SourceUserRepository
	Registry    *services.ModelRegistry
}

func NewModule(conf *configuration.Configuration, logger *logrus.Entry) (*Module, error) {
	registry, err := persistence.NewDefaultModelRegistry()
	if err != nil {
		return nil, err
	}
	sourceUsers := persistence.NewSourceUserRepository()
	access := persistence.NewAccessRepository()

	svc, err := services.NewReassignmentService(services.Dependencies{
		SourceUsers: sourceUsers,
		Users:       persistence.NewUserRepository(),
		Ledger:      persistence.NewLedgerRepository(),
		Access:      access,
		Members:     access,
		Registry:    registry,
	}, services.Options{
		BatchSize:          conf.Reassignment.BatchSize,
		RelationBatchSleep: conf.Reassignment.RelationBatchSleep,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}
	return &Module{Service: svc, SourceUsers: sourceUsers, Registry: registry}, nil
}

func (m *Module) Name() string {
	return "placeholders"
}
