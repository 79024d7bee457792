package caseflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/medsolicita/case-api/pkg/errors"

	"github.com/medsolicita/case-api/internal/gateway/mercadopago"
	"github.com/medsolicita/case-api/internal/model"
)

// fakeStore is an in-memory implementation of the repository interfaces,
// with the same compare-and-swap semantics as the postgres implementation.
type fakeStore struct {
	mu     sync.Mutex
	cases  map[uuid.UUID]model.Case
	users  map[uuid.UUID]model.User
	docs   map[uuid.UUID]model.Document
	events []model.OutboxEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cases: make(map[uuid.UUID]model.Case),
		users: make(map[uuid.UUID]model.User),
		docs:  make(map[uuid.UUID]model.Document),
	}
}

func (s *fakeStore) Create(ctx context.Context, c *model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	s.cases[c.ID] = *c
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id uuid.UUID) (*model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, apperrors.NotFound("case", nil)
	}
	out := c
	return &out, nil
}

func (s *fakeStore) GetByGatewayID(ctx context.Context, gatewayID string) (*model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.cases {
		if c.GatewayID != nil && *c.GatewayID == gatewayID {
			out := c
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("case", nil)
}

func (s *fakeStore) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Case
	for _, c := range s.cases {
		if c.PatientID == patientID {
			cc := c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (s *fakeStore) ListByStatus(ctx context.Context, status model.CaseStatus) ([]*model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Case
	for _, c := range s.cases {
		if c.Status == status {
			cc := c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (s *fakeStore) SavePaymentRequest(ctx context.Context, c *model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.cases[c.ID]
	if !ok {
		return apperrors.NotFound("case", nil)
	}
	stored.PaymentStatus = c.PaymentStatus
	stored.GatewayID = c.GatewayID
	stored.PreferenceID = c.PreferenceID
	stored.CheckoutURL = c.CheckoutURL
	stored.QRCode = c.QRCode
	stored.QRCodeBase64 = c.QRCodeBase64
	stored.UpdatedAt = time.Now().UTC()
	s.cases[c.ID] = stored
	return nil
}

func (s *fakeStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.CaseStatus, paymentStatus string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.cases[id]
	if !ok || stored.Status != from {
		return false, nil
	}
	stored.Status = to
	if paymentStatus != "" {
		stored.PaymentStatus = paymentStatus
	}
	stored.UpdatedAt = time.Now().UTC()
	s.cases[id] = stored
	return true, nil
}

func (s *fakeStore) ApproveAndSign(ctx context.Context, id, doctorID uuid.UUID, doc *model.Document, signedContent string, signedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.cases[id]
	if !ok {
		return false, apperrors.NotFound("case", nil)
	}
	if stored.Status != model.CaseStatusPaid {
		return false, nil
	}

	stored.Status = model.CaseStatusSigned
	stored.DoctorID = &doctorID
	stored.UpdatedAt = signedAt
	s.cases[id] = stored

	doc.ID = uuid.New()
	doc.CaseID = id
	doc.CreatedAt = signedAt
	doc.UpdatedAt = signedAt
	doc.SignedContent = &signedContent
	doc.SignedAt = &signedAt
	s.docs[id] = *doc
	return true, nil
}

func (s *fakeStore) GetByCaseID(ctx context.Context, caseID uuid.UUID) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[caseID]
	if !ok {
		return nil, apperrors.NotFound("document", nil)
	}
	out := doc
	return &out, nil
}

func (s *fakeStore) CreateUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.users[u.ID] = *u
}

func (s *fakeStore) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", nil)
	}
	out := u
	return &out, nil
}

func (s *fakeStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("user", nil)
}

func (s *fakeStore) CreateOutboxEvent(ctx context.Context, event *model.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = uuid.New()
	event.Status = model.OutboxStatusPending
	event.CreatedAt = time.Now().UTC()
	s.events = append(s.events, *event)
	return nil
}

func (s *fakeStore) eventsOfType(eventType string) []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.OutboxEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Interface adapters so one fakeStore serves all repositories.
type fakeUserRepo struct{ *fakeStore }

func (r fakeUserRepo) Create(ctx context.Context, u *model.User) error {
	r.CreateUser(u)
	return nil
}

func (r fakeUserRepo) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.GetUser(ctx, id)
}

func (r fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.GetUserByEmail(ctx, email)
}

type fakeOutboxRepo struct{ *fakeStore }

func (r fakeOutboxRepo) Create(ctx context.Context, event *model.OutboxEvent) error {
	return r.CreateOutboxEvent(ctx, event)
}

func (r fakeOutboxRepo) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return nil, nil
}

func (r fakeOutboxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string) error {
	return nil
}

// fakeGateway scripts provider responses and counts outbound calls.
type fakeGateway struct {
	mu          sync.Mutex
	pixCalls    int
	prefCalls   int
	statusCalls int
	lastCharge  mercadopago.ChargeRequest

	charge    *mercadopago.PixCharge
	chargeErr error
	pref      *mercadopago.CheckoutPreference
	prefErr   error
	statuses  map[string]*mercadopago.PaymentStatus
	statusErr error
}

func (g *fakeGateway) CreatePixPayment(ctx context.Context, req mercadopago.ChargeRequest) (*mercadopago.PixCharge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pixCalls++
	g.lastCharge = req
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return g.charge, nil
}

func (g *fakeGateway) CreateCheckoutPreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.CheckoutPreference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prefCalls++
	if g.prefErr != nil {
		return nil, g.prefErr
	}
	return g.pref, nil
}

func (g *fakeGateway) GetPaymentStatus(ctx context.Context, paymentID string) (*mercadopago.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.statusCalls++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	status, ok := g.statuses[paymentID]
	if !ok {
		return nil, apperrors.GatewayUnavailable(nil)
	}
	return status, nil
}

// fakeNotifier records delivered notifications.
type fakeNotifier struct {
	mu       sync.Mutex
	paid     int
	signed   int
	rejected int
}

func (n *fakeNotifier) CasePaid(ctx context.Context, c *model.Case, patient *model.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paid++
	return nil
}

func (n *fakeNotifier) CaseSigned(ctx context.Context, c *model.Case, patient *model.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signed++
	return nil
}

func (n *fakeNotifier) CaseRejected(ctx context.Context, c *model.Case, patient *model.User, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected++
	return nil
}
