package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/medsolicita/case-api/pkg/errors"

	"github.com/medsolicita/case-api/internal/model"
	"github.com/medsolicita/case-api/internal/repository"
)

type caseRepository struct {
	BaseRepository
}

func NewCaseRepository(base BaseRepository) repository.CaseRepository {
	return &caseRepository{base}
}

func (r *caseRepository) Create(ctx context.Context, c *model.Case) error {
	query := `
		INSERT INTO cases (
			id, patient_id, request_type, description, status,
			payment_status, payment_amount, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.PatientID,
		c.RequestType,
		c.Description,
		c.Status,
		c.PaymentStatus,
		c.PaymentAmount,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func (r *caseRepository) Get(ctx context.Context, id uuid.UUID) (*model.Case, error) {
	query := `SELECT * FROM cases WHERE id = $1`

	var c model.Case
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("case", err)
		}
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	if !c.Status.Valid() {
		return nil, fmt.Errorf("case %s has unknown status %q", c.ID, c.Status)
	}

	return &c, nil
}

func (r *caseRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*model.Case, error) {
	query := `SELECT * FROM cases WHERE gateway_id = $1`

	var c model.Case
	if err := r.db.GetContext(ctx, &c, query, gatewayID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("case", err)
		}
		return nil, fmt.Errorf("failed to get case by gateway id: %w", err)
	}

	return &c, nil
}

func (r *caseRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Case, error) {
	query := `
		SELECT * FROM cases
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`

	var cases []*model.Case
	if err := r.db.SelectContext(ctx, &cases, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list cases by patient: %w", err)
	}
	return cases, nil
}

func (r *caseRepository) ListByStatus(ctx context.Context, status model.CaseStatus) ([]*model.Case, error) {
	query := `
		SELECT * FROM cases
		WHERE status = $1
		ORDER BY created_at ASC
	`

	var cases []*model.Case
	if err := r.db.SelectContext(ctx, &cases, query, status); err != nil {
		return nil, fmt.Errorf("failed to list cases by status: %w", err)
	}
	return cases, nil
}

func (r *caseRepository) SavePaymentRequest(ctx context.Context, c *model.Case) error {
	query := `
		UPDATE cases SET
			payment_status = $1,
			gateway_id = $2,
			preference_id = $3,
			checkout_url = $4,
			qr_code = $5,
			qr_code_base64 = $6,
			updated_at = $7
		WHERE id = $8
	`

	c.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		c.PaymentStatus,
		c.GatewayID,
		c.PreferenceID,
		c.CheckoutURL,
		c.QRCode,
		c.QRCodeBase64,
		c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save payment request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("case", nil)
	}
	return nil
}

// TransitionStatus is the single write path for status changes. The WHERE
// clause on the current status makes the update a compare-and-swap: of two
// racing writers only one sees a row affected.
func (r *caseRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.CaseStatus, paymentStatus string) (bool, error) {
	query := `
		UPDATE cases SET
			status = $1,
			payment_status = COALESCE(NULLIF($2, ''), payment_status),
			updated_at = $3
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query, to, paymentStatus, time.Now().UTC(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition case status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *caseRepository) ApproveAndSign(ctx context.Context, id, doctorID uuid.UUID, doc *model.Document, signedContent string, signedAt time.Time) (bool, error) {
	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Lock the row so a racing approval blocks until we commit and then
		// fails its status guard.
		var status model.CaseStatus
		err := tx.GetContext(ctx, &status,
			`SELECT status FROM cases WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("case", err)
		}
		if err != nil {
			return fmt.Errorf("failed to lock case: %w", err)
		}
		if status != model.CaseStatusPaid {
			return nil
		}

		// paid -> approved with the doctor assigned, then approved -> signed
		// together with the document row. Both steps commit or neither does.
		_, err = tx.ExecContext(ctx, `
			UPDATE cases SET
				status = $1,
				doctor_id = $2,
				updated_at = $3
			WHERE id = $4 AND status = $5
		`, model.CaseStatusApproved, doctorID, signedAt, id, model.CaseStatusPaid)
		if err != nil {
			return fmt.Errorf("failed to approve case: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE cases SET
				status = $1,
				updated_at = $2
			WHERE id = $3 AND status = $4
		`, model.CaseStatusSigned, signedAt, id, model.CaseStatusApproved)
		if err != nil {
			return fmt.Errorf("failed to sign case: %w", err)
		}

		doc.ID = uuid.New()
		doc.CaseID = id
		doc.CreatedAt = signedAt
		doc.UpdatedAt = signedAt
		doc.SignedContent = &signedContent
		doc.SignedAt = &signedAt

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (
				id, case_id, content, signed_content, signed_at,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			doc.ID,
			doc.CaseID,
			doc.Content,
			doc.SignedContent,
			doc.SignedAt,
			doc.CreatedAt,
			doc.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}

		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}
