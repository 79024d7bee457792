package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/medsolicita/case-api/pkg/errors"

	"github.com/medsolicita/case-api/internal/model"
	"github.com/medsolicita/case-api/internal/repository"
)

type documentRepository struct {
	BaseRepository
}

func NewDocumentRepository(base BaseRepository) repository.DocumentRepository {
	return &documentRepository{base}
}

// Documents are only ever created inside the approval transaction owned by
// the case repository, so this repository is read-only.
func (r *documentRepository) GetByCaseID(ctx context.Context, caseID uuid.UUID) (*model.Document, error) {
	query := `SELECT * FROM documents WHERE case_id = $1`

	var doc model.Document
	if err := r.db.GetContext(ctx, &doc, query, caseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("document", err)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}
