package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"kyc-engine/internal/kyc/models"
	"kyc-engine/pkg/platform/sentinel"
)

// InMemoryStore implements Store with process-local maps. It backs unit tests
// and single-instance development deployments; production uses PostgresStore.
type InMemoryStore struct {
	mu            sync.RWMutex
	customers     map[string]models.Customer
	identifiers   map[string]models.CustomerIdentifier
	cases         map[string]models.KycCase
	consents      map[string]models.KycConsent
	documents     map[string]models.KycDocument
	submissions   map[string]models.CdmsSubmission // keyed by case ref
	notifications map[string]models.KycNotification
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		customers:     make(map[string]models.Customer),
		identifiers:   make(map[string]models.CustomerIdentifier),
		cases:         make(map[string]models.KycCase),
		consents:      make(map[string]models.KycConsent),
		documents:     make(map[string]models.KycDocument),
		submissions:   make(map[string]models.CdmsSubmission),
		notifications: make(map[string]models.KycNotification),
	}
}

func (s *InMemoryStore) CreateCustomer(_ context.Context, customer models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.customers[customer.Ref]; exists {
		return sentinel.ErrConflict
	}
	s.customers[customer.Ref] = customer
	return nil
}

func (s *InMemoryStore) GetCustomer(_ context.Context, ref string) (models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customers[ref]
	if !ok {
		return models.Customer{}, sentinel.ErrNotFound
	}
	return customer, nil
}

func (s *InMemoryStore) PutCustomer(_ context.Context, customer models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[customer.Ref]; !ok {
		return sentinel.ErrNotFound
	}
	s.customers[customer.Ref] = customer
	return nil
}

func (s *InMemoryStore) AddIdentifier(_ context.Context, identifier models.CustomerIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.identifiers[identifier.ID]; exists {
		return sentinel.ErrConflict
	}
	s.identifiers[identifier.ID] = identifier
	return nil
}

func (s *InMemoryStore) ListIdentifiers(_ context.Context, customerRef string) ([]models.CustomerIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CustomerIdentifier
	for _, id := range s.identifiers {
		if id.CustomerRef == customerRef {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) PutIdentifier(_ context.Context, identifier models.CustomerIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identifiers[identifier.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.identifiers[identifier.ID] = identifier
	return nil
}

func (s *InMemoryStore) CreateCase(_ context.Context, kycCase models.KycCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cases[kycCase.Ref]; exists {
		return sentinel.ErrConflict
	}
	kycCase.Version = 1
	s.cases[kycCase.Ref] = kycCase
	return nil
}

func (s *InMemoryStore) GetCase(_ context.Context, ref string) (models.KycCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kycCase, ok := s.cases[ref]
	if !ok {
		return models.KycCase{}, sentinel.ErrNotFound
	}
	return kycCase, nil
}

func (s *InMemoryStore) PutCase(_ context.Context, kycCase models.KycCase, expectedVersion int64) (models.KycCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cases[kycCase.Ref]
	if !ok {
		return models.KycCase{}, sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return models.KycCase{}, sentinel.ErrVersionConflict
	}
	kycCase.Version = expectedVersion + 1
	s.cases[kycCase.Ref] = kycCase
	return kycCase, nil
}

func (s *InMemoryStore) ExpiredCases(_ context.Context, now time.Time, limit int) ([]models.KycCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.KycCase
	for _, c := range s.cases {
		if !c.Status.IsTerminal() && !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
			out = append(out, c)
		}
	}
	return capSorted(out, limit), nil
}

func (s *InMemoryStore) IdleCases(_ context.Context, before time.Time, limit int) ([]models.KycCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.KycCase
	for _, c := range s.cases {
		if c.Status.IsTerminal() || c.Status == models.StatusTimeout {
			continue
		}
		if !c.LastActivityAt.After(before) {
			out = append(out, c)
		}
	}
	return capSorted(out, limit), nil
}

func (s *InMemoryStore) OpenCases(_ context.Context, limit int) ([]models.KycCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.KycCase
	for _, c := range s.cases {
		if !c.Status.IsTerminal() {
			out = append(out, c)
		}
	}
	return capSorted(out, limit), nil
}

func (s *InMemoryStore) CreateConsent(_ context.Context, consent models.KycConsent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.consents[consent.CaseRef]; exists {
		return sentinel.ErrConflict
	}
	s.consents[consent.CaseRef] = consent
	return nil
}

func (s *InMemoryStore) GetConsent(_ context.Context, caseRef string) (models.KycConsent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	consent, ok := s.consents[caseRef]
	if !ok {
		return models.KycConsent{}, sentinel.ErrNotFound
	}
	return consent, nil
}

func (s *InMemoryStore) AddDocument(_ context.Context, doc models.KycDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[doc.ID]; exists {
		return sentinel.ErrConflict
	}
	doc.Version = 1
	s.documents[doc.ID] = doc
	return nil
}

func (s *InMemoryStore) GetDocument(_ context.Context, id string) (models.KycDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return models.KycDocument{}, sentinel.ErrNotFound
	}
	return doc, nil
}

func (s *InMemoryStore) ListDocuments(_ context.Context, caseRef string) ([]models.KycDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.KycDocument
	for _, doc := range s.documents {
		if doc.CaseRef == caseRef {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func (s *InMemoryStore) PutDocument(_ context.Context, doc models.KycDocument, expectedVersion int64) (models.KycDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.documents[doc.ID]
	if !ok {
		return models.KycDocument{}, sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return models.KycDocument{}, sentinel.ErrVersionConflict
	}
	doc.Version = expectedVersion + 1
	s.documents[doc.ID] = doc
	return doc, nil
}

func (s *InMemoryStore) ExpiringDocuments(_ context.Context, now time.Time, limit int) ([]models.KycDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.KycDocument
	for _, doc := range s.documents {
		if !doc.Deleted && !doc.ExpiresAt.IsZero() && !now.Before(doc.ExpiresAt) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) CreateSubmission(_ context.Context, sub models.CdmsSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.submissions[sub.CaseRef]; exists {
		return sentinel.ErrConflict
	}
	sub.Version = 1
	s.submissions[sub.CaseRef] = sub
	return nil
}

func (s *InMemoryStore) GetSubmission(_ context.Context, caseRef string) (models.CdmsSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[caseRef]
	if !ok {
		return models.CdmsSubmission{}, sentinel.ErrNotFound
	}
	return sub, nil
}

func (s *InMemoryStore) PutSubmission(_ context.Context, sub models.CdmsSubmission, expectedVersion int64) (models.CdmsSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.submissions[sub.CaseRef]
	if !ok {
		return models.CdmsSubmission{}, sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return models.CdmsSubmission{}, sentinel.ErrVersionConflict
	}
	sub.Version = expectedVersion + 1
	s.submissions[sub.CaseRef] = sub
	return sub, nil
}

func (s *InMemoryStore) DueSubmissions(_ context.Context, now time.Time, limit int) ([]models.CdmsSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CdmsSubmission
	for _, sub := range s.submissions {
		if sub.Status != models.SubmissionPending {
			continue
		}
		if sub.NextRetryAt != nil && !now.Before(*sub.NextRetryAt) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CaseRef < out[j].CaseRef })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) AppendNotification(_ context.Context, n models.KycNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notifications[n.ID]; exists {
		return sentinel.ErrConflict
	}
	s.notifications[n.ID] = n
	return nil
}

func (s *InMemoryStore) PutNotification(_ context.Context, n models.KycNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.notifications[n.ID] = n
	return nil
}

func (s *InMemoryStore) ListNotifications(_ context.Context, caseRef string) ([]models.KycNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.KycNotification
	for _, n := range s.notifications {
		if n.CaseRef == caseRef {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

// capSorted orders cases by oldest activity first and applies the limit.
func capSorted(cases []models.KycCase, limit int) []models.KycCase {
	sort.Slice(cases, func(i, j int) bool {
		return cases[i].LastActivityAt.Before(cases[j].LastActivityAt)
	})
	if limit > 0 && len(cases) > limit {
		cases = cases[:limit]
	}
	return cases
}
