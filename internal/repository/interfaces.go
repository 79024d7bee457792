package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medsolicita/case-api/internal/model"
)

// All repository interfaces in one file
type (
	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
	}

	// CaseRepository persists cases. Every status change goes through a
	// compare-and-swap on the current status so that concurrent writers
	// cannot both succeed.
	CaseRepository interface {
		Create(ctx context.Context, c *model.Case) error
		Get(ctx context.Context, id uuid.UUID) (*model.Case, error)
		GetByGatewayID(ctx context.Context, gatewayID string) (*model.Case, error)
		ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Case, error)
		ListByStatus(ctx context.Context, status model.CaseStatus) ([]*model.Case, error)
		// SavePaymentRequest stores the gateway identifiers and PIX payload
		// produced by a successful charge creation.
		SavePaymentRequest(ctx context.Context, c *model.Case) error
		// TransitionStatus atomically moves the case from one status to
		// another, optionally recording the gateway-reported payment status.
		// It reports false, without mutating anything, when the case is not
		// currently in the expected status.
		TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.CaseStatus, paymentStatus string) (bool, error)
		// ApproveAndSign performs the doctor approval in one transaction:
		// paid -> approved with the doctor assigned, document row created,
		// approved -> signed with the signed rendition persisted. It reports
		// false when the case was not in paid status.
		ApproveAndSign(ctx context.Context, id, doctorID uuid.UUID, doc *model.Document, signedContent string, signedAt time.Time) (bool, error)
	}

	DocumentRepository interface {
		GetByCaseID(ctx context.Context, caseID uuid.UUID) (*model.Document, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string) error
	}
)
