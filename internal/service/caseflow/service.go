package caseflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/medsolicita/case-api/pkg/errors"
	"github.com/medsolicita/case-api/pkg/logger"

	"github.com/medsolicita/case-api/internal/gateway/mercadopago"
	"github.com/medsolicita/case-api/internal/model"
	"github.com/medsolicita/case-api/internal/repository"
)

// Gateway is the slice of the payment provider the workflow engine consumes.
type Gateway interface {
	CreatePixPayment(ctx context.Context, req mercadopago.ChargeRequest) (*mercadopago.PixCharge, error)
	CreateCheckoutPreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.CheckoutPreference, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*mercadopago.PaymentStatus, error)
}

// Notifier delivers user-facing notifications for case lifecycle changes.
// Failures are logged, never surfaced to the caller.
type Notifier interface {
	CasePaid(ctx context.Context, c *model.Case, patient *model.User) error
	CaseSigned(ctx context.Context, c *model.Case, patient *model.User) error
	CaseRejected(ctx context.Context, c *model.Case, patient *model.User, reason string) error
}

// Service owns the case status state machine, payment-request creation,
// payment reconciliation and document issuance.
type Service struct {
	caseRepo   repository.CaseRepository
	userRepo   repository.UserRepository
	docRepo    repository.DocumentRepository
	outboxRepo repository.OutboxRepository
	gateway    Gateway
	notifier   Notifier
	baseURL    string
	logger     *logger.Logger
}

func NewService(
	caseRepo repository.CaseRepository,
	userRepo repository.UserRepository,
	docRepo repository.DocumentRepository,
	outboxRepo repository.OutboxRepository,
	gateway Gateway,
	notifier Notifier,
	baseURL string,
	logger *logger.Logger,
) *Service {
	return &Service{
		caseRepo:   caseRepo,
		userRepo:   userRepo,
		docRepo:    docRepo,
		outboxRepo: outboxRepo,
		gateway:    gateway,
		notifier:   notifier,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// CreateCase opens a new request for the patient, in pending status with the
// fixed fee.
func (s *Service) CreateCase(ctx context.Context, patientID uuid.UUID, req *model.CreateCaseRequest) (*model.Case, error) {
	patient, err := s.userRepo.Get(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}
	if patient.Role != model.UserRolePatient {
		return nil, apperrors.Unauthorized("only patients can open cases")
	}

	c := &model.Case{
		PatientID:     patientID,
		RequestType:   req.RequestType,
		Description:   req.Description,
		Status:        model.CaseStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		PaymentAmount: model.DefaultCaseAmount,
	}

	if err := s.caseRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}

	s.emitEvent(ctx, model.EventCaseCreated, c)
	return c, nil
}

// RequestPayment initiates a PIX charge for a pending case. The operation is
// idempotent: a stored PIX payload is returned as-is with no gateway call.
// When the direct charge API is unavailable it falls back to a checkout
// preference; when both paths fail the case is left pending with no gateway
// reference so the patient can retry.
func (s *Service) RequestPayment(ctx context.Context, caseID, patientID uuid.UUID) (*model.PaymentInfo, error) {
	c, err := s.caseRepo.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.PatientID != patientID {
		return nil, apperrors.Unauthorized("case belongs to another patient")
	}

	if c.HasPixPayload() {
		return paymentInfo(c), nil
	}
	if c.CheckoutURL != nil && *c.CheckoutURL != "" {
		return paymentInfo(c), nil
	}
	if c.Status != model.CaseStatusPending {
		return nil, apperrors.InvalidStateTransition(string(c.Status), string(model.CaseStatusPaid))
	}

	patient, err := s.userRepo.Get(ctx, c.PatientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}

	description := fmt.Sprintf("Solicitação Médica #%s - %s", c.ID, c.RequestType)
	payer := mercadopago.Payer{
		Email:     patient.Email,
		FirstName: patient.FirstName(),
		LastName:  patient.LastName(),
		FullName:  patient.FullName,
	}

	charge, err := s.gateway.CreatePixPayment(ctx, mercadopago.ChargeRequest{
		Amount:            c.PaymentAmount,
		Description:       description,
		ExternalReference: c.ID.String(),
		IdempotencyKey:    fmt.Sprintf("case-%s-%d", c.ID, c.CreatedAt.Unix()),
		NotificationURL:   s.notificationURL(),
		Payer:             payer,
	})
	if err == nil {
		c.GatewayID = &charge.PaymentID
		c.QRCode = &charge.QRCode
		c.QRCodeBase64 = &charge.QRCodeBase64
		c.PaymentStatus = charge.Status
		if err := s.caseRepo.SavePaymentRequest(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to store payment request: %w", err)
		}
		return paymentInfo(c), nil
	}
	if !apperrors.Is(err, apperrors.ErrGatewayUnavailable) {
		return nil, err
	}

	s.logger.Error(err, "direct PIX charge failed, trying checkout preference",
		"case_id", c.ID.String())

	pref, prefErr := s.gateway.CreateCheckoutPreference(ctx, mercadopago.PreferenceRequest{
		Title:             description,
		Description:       c.Description,
		Amount:            c.PaymentAmount,
		ExternalReference: c.ID.String(),
		NotificationURL:   s.notificationURL(),
		ReturnURL:         fmt.Sprintf("%s/patient/case/%s/status", s.baseURL, c.ID),
		Payer:             payer,
	})
	if prefErr != nil {
		// Both paths failed. The case stays pending with no gateway
		// reference so a later retry can succeed.
		return nil, apperrors.GatewayUnavailable(prefErr)
	}

	c.PreferenceID = &pref.PreferenceID
	c.CheckoutURL = &pref.CheckoutURL
	if err := s.caseRepo.SavePaymentRequest(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store payment request: %w", err)
	}
	return paymentInfo(c), nil
}

// ReconcilePayment applies a gateway-reported payment status to the matching
// case. It is the single convergence point for webhook pushes and on-demand
// polls: only a pending case moves to paid, and only when the gateway reports
// approved. Everything else is a no-op.
func (s *Service) ReconcilePayment(ctx context.Context, paymentID string) error {
	status, err := s.gateway.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("failed to query payment %s: %w", paymentID, err)
	}

	c, err := s.findCaseForPayment(ctx, paymentID, status.ExternalReference)
	if err != nil {
		return err
	}

	if status.Status != model.PaymentStatusApproved {
		return nil
	}
	if c.Status != model.CaseStatusPending {
		// Already paid or beyond: redelivery is acknowledged, not repeated.
		return nil
	}

	won, err := s.caseRepo.TransitionStatus(ctx, c.ID,
		model.CaseStatusPending, model.CaseStatusPaid, status.Status)
	if err != nil {
		return fmt.Errorf("failed to mark case paid: %w", err)
	}
	if !won {
		return nil
	}

	c.Status = model.CaseStatusPaid
	c.PaymentStatus = status.Status
	s.emitEvent(ctx, model.EventCasePaid, c)
	s.notifyPatient(ctx, c, func(patient *model.User) error {
		return s.notifier.CasePaid(ctx, c, patient)
	})
	return nil
}

// RefreshPaymentStatus is the poll path: the patient asks for the current
// payment state and the case is reconciled against the gateway on the way.
// A gateway failure leaves the case unchanged for a later retry.
func (s *Service) RefreshPaymentStatus(ctx context.Context, caseID, patientID uuid.UUID) (*model.Case, error) {
	c, err := s.caseRepo.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.PatientID != patientID {
		return nil, apperrors.Unauthorized("case belongs to another patient")
	}

	if c.GatewayID == nil || c.Status != model.CaseStatusPending {
		return c, nil
	}

	if err := s.ReconcilePayment(ctx, *c.GatewayID); err != nil {
		s.logger.Error(err, "payment poll failed, leaving case unchanged",
			"case_id", c.ID.String())
		return c, nil
	}

	return s.caseRepo.Get(ctx, caseID)
}

// ApproveCase performs the doctor approval: the paid case is assigned to the
// doctor, a document with the provided clinical content is issued and its
// signed rendition is produced, all in one transaction. A second approval of
// the same case is rejected, never repeated.
func (s *Service) ApproveCase(ctx context.Context, caseID, doctorID uuid.UUID, content string) (*model.Document, error) {
	doctor, err := s.userRepo.Get(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load doctor: %w", err)
	}
	if !doctor.IsDoctor() {
		return nil, apperrors.Unauthorized("only doctors can approve cases")
	}

	c, err := s.caseRepo.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CaseStatusPaid {
		return nil, apperrors.InvalidStateTransition(string(c.Status), string(model.CaseStatusApproved))
	}

	patient, err := s.userRepo.Get(ctx, c.PatientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}

	signedAt := time.Now().UTC()
	signed := renderSignedDocument(c, patient, doctor, content, signedAt)
	doc := &model.Document{Content: content}

	won, err := s.caseRepo.ApproveAndSign(ctx, c.ID, doctorID, doc, signed, signedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to approve case: %w", err)
	}
	if !won {
		// A concurrent approval got there first.
		return nil, apperrors.InvalidStateTransition(string(model.CaseStatusPaid), string(model.CaseStatusApproved))
	}

	c.Status = model.CaseStatusSigned
	c.DoctorID = &doctorID
	s.emitEvent(ctx, model.EventCaseSigned, c)
	s.notifyPatient(ctx, c, func(patient *model.User) error {
		return s.notifier.CaseSigned(ctx, c, patient)
	})

	return doc, nil
}

// RejectCase moves a pending or paid case to the rejected terminal state.
func (s *Service) RejectCase(ctx context.Context, caseID, doctorID uuid.UUID, reason string) error {
	doctor, err := s.userRepo.Get(ctx, doctorID)
	if err != nil {
		return fmt.Errorf("failed to load doctor: %w", err)
	}
	if !doctor.IsDoctor() {
		return apperrors.Unauthorized("only doctors can reject cases")
	}

	c, err := s.caseRepo.Get(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Status != model.CaseStatusPending && c.Status != model.CaseStatusPaid {
		return apperrors.InvalidStateTransition(string(c.Status), string(model.CaseStatusRejected))
	}

	won, err := s.caseRepo.TransitionStatus(ctx, c.ID, c.Status, model.CaseStatusRejected, "")
	if err != nil {
		return fmt.Errorf("failed to reject case: %w", err)
	}
	if !won {
		return apperrors.Conflict("case status changed concurrently")
	}

	c.Status = model.CaseStatusRejected
	s.emitEvent(ctx, model.EventCaseRejected, c)
	s.notifyPatient(ctx, c, func(patient *model.User) error {
		return s.notifier.CaseRejected(ctx, c, patient, reason)
	})
	return nil
}

// GetCaseForPatient returns the case only when it belongs to the patient.
func (s *Service) GetCaseForPatient(ctx context.Context, caseID, patientID uuid.UUID) (*model.Case, error) {
	c, err := s.caseRepo.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.PatientID != patientID {
		return nil, apperrors.Unauthorized("case belongs to another patient")
	}
	return c, nil
}

func (s *Service) ListCasesForPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Case, error) {
	cases, err := s.caseRepo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	return cases, nil
}

// ListCasesAwaitingReview returns the paid cases waiting for doctor action.
func (s *Service) ListCasesAwaitingReview(ctx context.Context, doctorID uuid.UUID) ([]*model.Case, error) {
	doctor, err := s.userRepo.Get(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load doctor: %w", err)
	}
	if !doctor.IsDoctor() {
		return nil, apperrors.Unauthorized("only doctors can review cases")
	}

	cases, err := s.caseRepo.ListByStatus(ctx, model.CaseStatusPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases awaiting review: %w", err)
	}
	return cases, nil
}

// GetSignedDocument returns the document of a signed case for its patient or
// its assigned doctor.
func (s *Service) GetSignedDocument(ctx context.Context, caseID, actorID uuid.UUID) (*model.Document, error) {
	c, err := s.caseRepo.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.PatientID != actorID && (c.DoctorID == nil || *c.DoctorID != actorID) {
		return nil, apperrors.Unauthorized("case belongs to another user")
	}
	if c.Status != model.CaseStatusSigned {
		return nil, apperrors.NotFound("signed document", nil)
	}

	return s.docRepo.GetByCaseID(ctx, caseID)
}

// ExportSignedDocument returns the signed rendition as a downloadable
// markdown artifact named deterministically from the case identifier.
func (s *Service) ExportSignedDocument(ctx context.Context, caseID, actorID uuid.UUID) (filename string, content []byte, err error) {
	doc, err := s.GetSignedDocument(ctx, caseID, actorID)
	if err != nil {
		return "", nil, err
	}
	if doc.SignedContent == nil {
		return "", nil, apperrors.NotFound("signed document", nil)
	}
	return fmt.Sprintf("case-%s.md", caseID), []byte(*doc.SignedContent), nil
}

func (s *Service) findCaseForPayment(ctx context.Context, paymentID, externalReference string) (*model.Case, error) {
	if externalReference != "" {
		if id, err := uuid.Parse(externalReference); err == nil {
			if c, err := s.caseRepo.Get(ctx, id); err == nil {
				return c, nil
			}
		}
	}
	return s.caseRepo.GetByGatewayID(ctx, paymentID)
}

func (s *Service) notificationURL() string {
	return s.baseURL + "/api/mercadopago/notification"
}

func (s *Service) emitEvent(ctx context.Context, eventType string, c *model.Case) {
	payload, err := json.Marshal(c)
	if err != nil {
		s.logger.Error(err, "failed to marshal case for event", "case_id", c.ID.String())
		return
	}
	if err := s.outboxRepo.Create(ctx, &model.OutboxEvent{
		EventType: eventType,
		Payload:   payload,
	}); err != nil {
		s.logger.Error(err, "failed to create outbox event",
			"event_type", eventType, "case_id", c.ID.String())
	}
}

func (s *Service) notifyPatient(ctx context.Context, c *model.Case, send func(*model.User) error) {
	patient, err := s.userRepo.Get(ctx, c.PatientID)
	if err != nil {
		s.logger.Error(err, "failed to load patient for notification", "case_id", c.ID.String())
		return
	}
	if err := send(patient); err != nil {
		s.logger.Error(err, "failed to send notification", "case_id", c.ID.String())
	}
}

func paymentInfo(c *model.Case) *model.PaymentInfo {
	info := &model.PaymentInfo{
		CaseID:        c.ID,
		PaymentStatus: c.PaymentStatus,
	}
	if c.QRCode != nil {
		info.QRCode = *c.QRCode
	}
	if c.QRCodeBase64 != nil {
		info.QRCodeBase64 = *c.QRCodeBase64
	}
	if c.CheckoutURL != nil {
		info.CheckoutURL = *c.CheckoutURL
	}
	return info
}
