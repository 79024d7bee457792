package caseflow

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/medsolicita/case-api/pkg/errors"
	"github.com/medsolicita/case-api/pkg/logger"

	"github.com/medsolicita/case-api/internal/gateway/mercadopago"
	"github.com/medsolicita/case-api/internal/model"
)

const testBaseURL = "https://app.example"

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeGateway, *fakeNotifier) {
	t.Helper()

	store := newFakeStore()
	gateway := &fakeGateway{statuses: make(map[string]*mercadopago.PaymentStatus)}
	notifier := &fakeNotifier{}
	log := logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})

	svc := NewService(store, fakeUserRepo{store}, store, fakeOutboxRepo{store},
		gateway, notifier, testBaseURL, log)
	return svc, store, gateway, notifier
}

func seedPatient(store *fakeStore, name, email string) uuid.UUID {
	u := &model.User{
		Email:    email,
		FullName: name,
		Role:     model.UserRolePatient,
	}
	store.CreateUser(u)
	return u.ID
}

func seedDoctor(store *fakeStore, name, crm string) uuid.UUID {
	u := &model.User{
		Email:    "doctor@clinic.example",
		FullName: name,
		Role:     model.UserRoleDoctor,
		CRM:      &crm,
	}
	store.CreateUser(u)
	return u.ID
}

func seedCase(t *testing.T, svc *Service, patientID uuid.UUID) *model.Case {
	t.Helper()
	c, err := svc.CreateCase(context.Background(), patientID, &model.CreateCaseRequest{
		RequestType: "prescription",
		Description: "dores de cabeça frequentes",
	})
	require.NoError(t, err)
	return c
}

func TestCreateCase(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")

	c := seedCase(t, svc, patientID)

	assert.Equal(t, model.CaseStatusPending, c.Status)
	assert.Equal(t, model.DefaultCaseAmount, c.PaymentAmount)
	assert.Equal(t, patientID, c.PatientID)
	assert.Nil(t, c.DoctorID)
	assert.Nil(t, c.GatewayID)
	assert.Len(t, store.eventsOfType(model.EventCaseCreated), 1)
}

func TestCreateCaseRequiresPatientRole(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	doctorID := seedDoctor(store, "Dr. João Souza", "52123/SP")

	_, err := svc.CreateCase(context.Background(), doctorID, &model.CreateCaseRequest{
		RequestType: "prescription",
		Description: "x",
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestRequestPaymentCreatesCharge(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	c := seedCase(t, svc, patientID)

	gateway.charge = &mercadopago.PixCharge{
		PaymentID:    "777",
		Status:       "pending",
		QRCode:       "00020126pix",
		QRCodeBase64: "aW1n",
	}

	info, err := svc.RequestPayment(context.Background(), c.ID, patientID)
	require.NoError(t, err)

	assert.Equal(t, "00020126pix", info.QRCode)
	assert.Equal(t, "aW1n", info.QRCodeBase64)
	assert.Equal(t, 1, gateway.pixCalls)

	assert.Equal(t, c.PaymentAmount, gateway.lastCharge.Amount)
	assert.Equal(t, c.ID.String(), gateway.lastCharge.ExternalReference)
	assert.Equal(t, fmt.Sprintf("case-%s-%d", c.ID, c.CreatedAt.Unix()), gateway.lastCharge.IdempotencyKey)
	assert.Equal(t, testBaseURL+"/api/mercadopago/notification", gateway.lastCharge.NotificationURL)
	assert.Equal(t, "Maria", gateway.lastCharge.Payer.FirstName)
	assert.Equal(t, "da Silva", gateway.lastCharge.Payer.LastName)

	stored, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "777", *stored.GatewayID)
	assert.Equal(t, model.CaseStatusPending, stored.Status)
}

func TestRequestPaymentIsIdempotent(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	c := seedCase(t, svc, patientID)

	gateway.charge = &mercadopago.PixCharge{
		PaymentID: "777",
		Status:    "pending",
		QRCode:    "00020126pix",
	}

	first, err := svc.RequestPayment(context.Background(), c.ID, patientID)
	require.NoError(t, err)
	second, err := svc.RequestPayment(context.Background(), c.ID, patientID)
	require.NoError(t, err)

	assert.Equal(t, first.QRCode, second.QRCode)
	assert.Equal(t, 1, gateway.pixCalls, "stored payload must be returned without a new gateway call")
}

func TestRequestPaymentFallsBackToCheckoutPreference(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	c := seedCase(t, svc, patientID)

	gateway.chargeErr = apperrors.GatewayUnavailable(nil)
	gateway.pref = &mercadopago.CheckoutPreference{
		PreferenceID: "pref-9",
		CheckoutURL:  "https://mp.example/checkout/pref-9",
	}

	info, err := svc.RequestPayment(context.Background(), c.ID, patientID)
	require.NoError(t, err)

	assert.Equal(t, "https://mp.example/checkout/pref-9", info.CheckoutURL)
	assert.Empty(t, info.QRCode)
	assert.Equal(t, 1, gateway.pixCalls)
	assert.Equal(t, 1, gateway.prefCalls)

	stored, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "pref-9", *stored.PreferenceID)
}

func TestRequestPaymentLeavesCasePendingWhenBothPathsFail(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	c := seedCase(t, svc, patientID)

	gateway.chargeErr = apperrors.GatewayUnavailable(nil)
	gateway.prefErr = apperrors.GatewayUnavailable(nil)

	_, err := svc.RequestPayment(context.Background(), c.ID, patientID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrGatewayUnavailable))

	// The case survives for a later retry, with no dangling gateway
	// reference.
	stored, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusPending, stored.Status)
	assert.Nil(t, stored.GatewayID)
	assert.Nil(t, stored.CheckoutURL)
	assert.Equal(t, c.Description, stored.Description)
}

func TestRequestPaymentOwnership(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	otherID := seedPatient(store, "José Santos", "jose@example.com")
	c := seedCase(t, svc, patientID)

	_, err := svc.RequestPayment(context.Background(), c.ID, otherID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func payCase(t *testing.T, svc *Service, store *fakeStore, gateway *fakeGateway, c *model.Case, patientID uuid.UUID) {
	t.Helper()

	gateway.charge = &mercadopago.PixCharge{PaymentID: "777", Status: "pending", QRCode: "qr"}
	_, err := svc.RequestPayment(context.Background(), c.ID, patientID)
	require.NoError(t, err)

	gateway.statuses["777"] = &mercadopago.PaymentStatus{
		Status:            model.PaymentStatusApproved,
		ExternalReference: c.ID.String(),
	}
	require.NoError(t, svc.ReconcilePayment(context.Background(), "777"))
}

func TestReconcilePaymentMarksCasePaid(t *testing.T) {
	svc, store, gateway, notifier := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	c := seedCase(t, svc, patientID)

	payCase(t, svc, store, gateway, c, patientID)

	stored, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusPaid, stored.Status)
	assert.Equal(t, model.PaymentStatusApproved, stored.PaymentStatus)
	assert.Len(t, store.eventsOfType(model.EventCasePaid), 1)
	assert.Equal(t, 1, notifier.paid)
}

func TestReconcilePaymentIsIdempotent(t *testing.T) {
	svc, store, gateway, notifier := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	c := seedCase(t, svc, patientID)

	payCase(t, svc, store, gateway, c, patientID)

	// Webhook redelivery: acknowledged, not repeated.
	require.NoError(t, svc.ReconcilePayment(context.Background(), "777"))
	require.NoError(t, svc.ReconcilePayment(context.Background(), "777"))

	assert.Len(t, store.eventsOfType(model.EventCasePaid), 1)
	assert.Equal(t, 1, notifier.paid)
}

func TestReconcilePaymentUnknownCase(t *testing.T) {
	svc, _, gateway, _ := newTestService(t)

	gateway.statuses["999"] = &mercadopago.PaymentStatus{
		Status:            model.PaymentStatusApproved,
		ExternalReference: uuid.NewString(),
	}

	err := svc.ReconcilePayment(context.Background(), "999")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestReconcilePaymentIgnoresUnapprovedStatus(t *testing.T) {
	svc, store, gateway, notifier := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	c := seedCase(t, svc, patientID)

	gateway.charge = &mercadopago.PixCharge{PaymentID: "777", Status: "pending", QRCode: "qr"}
	_, err := svc.RequestPayment(context.Background(), c.ID, patientID)
	require.NoError(t, err)

	gateway.statuses["777"] = &mercadopago.PaymentStatus{
		Status:            "in_process",
		ExternalReference: c.ID.String(),
	}
	require.NoError(t, svc.ReconcilePayment(context.Background(), "777"))

	stored, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusPending, stored.Status)
	assert.Equal(t, 0, notifier.paid)
}

func TestRefreshPaymentStatusPollPath(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	c := seedCase(t, svc, patientID)

	gateway.charge = &mercadopago.PixCharge{PaymentID: "777", Status: "pending", QRCode: "qr"}
	_, err := svc.RequestPayment(context.Background(), c.ID, patientID)
	require.NoError(t, err)

	gateway.statuses["777"] = &mercadopago.PaymentStatus{
		Status:            model.PaymentStatusApproved,
		ExternalReference: c.ID.String(),
	}

	refreshed, err := svc.RefreshPaymentStatus(context.Background(), c.ID, patientID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusPaid, refreshed.Status)
}

func TestRefreshPaymentStatusGatewayFailureLeavesCaseUnchanged(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	c := seedCase(t, svc, patientID)

	gateway.charge = &mercadopago.PixCharge{PaymentID: "777", Status: "pending", QRCode: "qr"}
	_, err := svc.RequestPayment(context.Background(), c.ID, patientID)
	require.NoError(t, err)

	gateway.statusErr = apperrors.GatewayUnavailable(nil)

	refreshed, err := svc.RefreshPaymentStatus(context.Background(), c.ID, patientID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusPending, refreshed.Status)
}

func TestApproveCaseIssuesSignedDocument(t *testing.T) {
	svc, store, gateway, notifier := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	doctorID := seedDoctor(store, "Dr. João Souza", "52123/SP")
	c := seedCase(t, svc, patientID)
	payCase(t, svc, store, gateway, c, patientID)

	doc, err := svc.ApproveCase(context.Background(), c.ID, doctorID, "Take drug Y")
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusSigned, stored.Status)
	require.NotNil(t, stored.DoctorID)
	assert.Equal(t, doctorID, *stored.DoctorID)

	require.NotNil(t, doc.SignedContent)
	signed := *doc.SignedContent
	assert.Contains(t, signed, "Maria da Silva")
	assert.Contains(t, signed, "Dr. João Souza")
	assert.Contains(t, signed, "52123/SP")
	assert.Contains(t, signed, "Take drug Y")
	require.NotNil(t, doc.SignedAt)
	assert.Contains(t, signed, doc.SignedAt.Format(time.RFC3339))

	assert.Len(t, store.eventsOfType(model.EventCaseSigned), 1)
	assert.Equal(t, 1, notifier.signed)
}

func TestApproveCaseExactlyOnce(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	doctorID := seedDoctor(store, "Dr. João Souza", "52123/SP")
	c := seedCase(t, svc, patientID)
	payCase(t, svc, store, gateway, c, patientID)

	_, err := svc.ApproveCase(context.Background(), c.ID, doctorID, "Take drug Y")
	require.NoError(t, err)

	_, err = svc.ApproveCase(context.Background(), c.ID, doctorID, "Take drug Y")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidStateTransition))

	assert.Len(t, store.docs, 1, "second approval must not create a second document")
}

func TestApproveCaseRequiresDoctorRole(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	c := seedCase(t, svc, patientID)
	payCase(t, svc, store, gateway, c, patientID)

	_, err := svc.ApproveCase(context.Background(), c.ID, patientID, "Take drug Y")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestApproveCaseRequiresPaidStatus(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	doctorID := seedDoctor(store, "Dr. João Souza", "52123/SP")
	c := seedCase(t, svc, patientID)

	_, err := svc.ApproveCase(context.Background(), c.ID, doctorID, "Take drug Y")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidStateTransition))

	// The rejected operation leaves the case untouched.
	stored, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusPending, stored.Status)
	assert.Nil(t, stored.DoctorID)
	assert.Empty(t, store.docs)
}

func TestRejectCase(t *testing.T) {
	svc, store, _, notifier := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	doctorID := seedDoctor(store, "Dr. João Souza", "52123/SP")
	c := seedCase(t, svc, patientID)

	require.NoError(t, svc.RejectCase(context.Background(), c.ID, doctorID, "incomplete information"))

	stored, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusRejected, stored.Status)
	assert.Len(t, store.eventsOfType(model.EventCaseRejected), 1)
	assert.Equal(t, 1, notifier.rejected)

	// Terminal: no further transitions.
	err = svc.RejectCase(context.Background(), c.ID, doctorID, "again")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidStateTransition))
}

func TestCaseLookupsAreScopedToActor(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	otherID := seedPatient(store, "José Santos", "jose@example.com")
	doctorID := seedDoctor(store, "Dr. João Souza", "52123/SP")

	paid := seedCase(t, svc, patientID)
	payCase(t, svc, store, gateway, paid, patientID)
	pending := seedCase(t, svc, otherID)

	_, err := svc.GetCaseForPatient(context.Background(), paid.ID, otherID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))

	mine, err := svc.ListCasesForPatient(context.Background(), patientID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, paid.ID, mine[0].ID)

	review, err := svc.ListCasesAwaitingReview(context.Background(), doctorID)
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, paid.ID, review[0].ID)
	assert.NotEqual(t, pending.ID, review[0].ID)
}

func TestSignedDocumentAccess(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	otherID := seedPatient(store, "José Santos", "jose@example.com")
	doctorID := seedDoctor(store, "Dr. João Souza", "52123/SP")
	c := seedCase(t, svc, patientID)
	payCase(t, svc, store, gateway, c, patientID)

	_, err := svc.GetSignedDocument(context.Background(), c.ID, patientID)
	require.Error(t, err, "no document before approval")

	_, err = svc.ApproveCase(context.Background(), c.ID, doctorID, "Take drug Y")
	require.NoError(t, err)

	doc, err := svc.GetSignedDocument(context.Background(), c.ID, patientID)
	require.NoError(t, err)
	assert.Equal(t, "Take drug Y", doc.Content)

	_, err = svc.GetSignedDocument(context.Background(), c.ID, doctorID)
	require.NoError(t, err, "assigned doctor can read the document")

	_, err = svc.GetSignedDocument(context.Background(), c.ID, otherID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestExportSignedDocument(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	doctorID := seedDoctor(store, "Dr. João Souza", "52123/SP")
	c := seedCase(t, svc, patientID)
	payCase(t, svc, store, gateway, c, patientID)

	_, err := svc.ApproveCase(context.Background(), c.ID, doctorID, "Take drug Y")
	require.NoError(t, err)

	name, content, err := svc.ExportSignedDocument(context.Background(), c.ID, patientID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("case-%s.md", c.ID), name)
	assert.Contains(t, string(content), "Take drug Y")
	assert.Contains(t, string(content), "52123/SP")
}

// Full walkthrough: create, charge, webhook, approve, export, re-approve.
func TestCaseLifecycle(t *testing.T) {
	svc, store, gateway, _ := newTestService(t)
	patientID := seedPatient(store, "Maria da Silva", "maria@example.com")
	doctorID := seedDoctor(store, "Dr. João Souza", "52123/SP")

	c, err := svc.CreateCase(context.Background(), patientID, &model.CreateCaseRequest{
		RequestType: "prescription",
		Description: "renovação de receita",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusPending, c.Status)
	assert.Equal(t, 50.0, c.PaymentAmount)

	gateway.charge = &mercadopago.PixCharge{PaymentID: "X", Status: "pending", QRCode: "qr", QRCodeBase64: "img"}
	info, err := svc.RequestPayment(context.Background(), c.ID, patientID)
	require.NoError(t, err)
	assert.NotEmpty(t, info.QRCode)

	gateway.statuses["X"] = &mercadopago.PaymentStatus{
		Status:            model.PaymentStatusApproved,
		ExternalReference: c.ID.String(),
	}
	require.NoError(t, svc.ReconcilePayment(context.Background(), "X"))

	stored, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusPaid, stored.Status)

	doc, err := svc.ApproveCase(context.Background(), c.ID, doctorID, "Take drug Y")
	require.NoError(t, err)

	signed := *doc.SignedContent
	assert.Contains(t, signed, "Maria da Silva")
	assert.Contains(t, signed, "Dr. João Souza")
	assert.Contains(t, signed, "52123/SP")
	assert.Contains(t, signed, "Take drug Y")

	_, err = svc.ApproveCase(context.Background(), c.ID, doctorID, "Take drug Y")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidStateTransition))
	assert.Len(t, store.docs, 1)
}
