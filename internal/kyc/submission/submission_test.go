package submission

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"kyc-engine/internal/kyc/engine"
	"kyc-engine/internal/kyc/gateway"
	"kyc-engine/internal/kyc/metrics"
	"kyc-engine/internal/kyc/models"
	"kyc-engine/internal/kyc/notify"
	"kyc-engine/internal/kyc/policy"
	"kyc-engine/internal/kyc/store"
	"kyc-engine/internal/platform/logger"
)

type fakeGateway struct {
	outcome gateway.Outcome
	err     error
	calls   int
}

func (g *fakeGateway) Submit(context.Context, models.CaseSnapshot) (gateway.Outcome, error) {
	g.calls++
	return g.outcome, g.err
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type SubmitterSuite struct {
	suite.Suite
	store     *store.InMemoryStore
	clock     *fakeClock
	engine    *engine.Engine
	gateway   *fakeGateway
	submitter *Submitter
	ctx       context.Context
}

func (s *SubmitterSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	s.clock = &fakeClock{now: time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)}
	s.gateway = &fakeGateway{}
	s.ctx = context.Background()

	log := logger.Discard()
	dispatcher := notify.NewDispatcher(s.store, notify.NewLoggerNotifier(log),
		notify.WithClock(s.clock.Now), notify.WithLogger(log))

	expiry := policy.Expiry{CaseTTL: 7 * 24 * time.Hour, IdleTimeout: 72 * time.Hour, TimeoutGrace: 24 * time.Hour, WarningFraction: 0.8}
	s.engine = engine.NewEngine(s.store, expiry,
		engine.WithClock(s.clock.Now),
		engine.WithLogger(log),
		engine.WithDispatcher(dispatcher),
	)

	backoff := policy.Backoff{Base: 5 * time.Minute, Factor: 3, Cap: 2 * time.Hour, Jitter: 0}
	s.submitter = NewSubmitter(s.store, s.gateway, s.engine, backoff, 3,
		WithClock(s.clock.Now),
		WithLogger(log),
		WithDispatcher(dispatcher),
	)
}

func TestSubmitterSuite(t *testing.T) {
	suite.Run(t, new(SubmitterSuite))
}

// submittedCase drives a fresh case to SUBMITTED and returns its pending
// submission.
func (s *SubmitterSuite) submittedCase() models.CdmsSubmission {
	customer, err := s.engine.RegisterCustomer(s.ctx,
		models.Customer{Type: models.CustomerIndividual, FullName: "Brice Moukoko"},
		[]models.CustomerIdentifier{
			{Type: models.IdentifierPhoneNumber, Value: "+242055550001", Channel: models.ChannelSMS, Primary: true},
		})
	s.Require().NoError(err)

	kc, err := s.engine.StartCase(s.ctx, customer.Ref, models.ChannelSMS)
	s.Require().NoError(err)
	_, err = s.engine.RecordConsent(s.ctx, kc.Ref, engine.ConsentInput{Consented: true, Text: "ok", Version: "v1"}, "agent-1")
	s.Require().NoError(err)
	for _, dt := range []models.DocumentType{models.DocumentNationalID, models.DocumentProofOfAddress} {
		_, err = s.engine.AttachDocument(s.ctx, kc.Ref, engine.DocumentInput{Type: dt, Content: []byte("scan")}, "agent-1")
		s.Require().NoError(err)
	}
	_, err = s.engine.RequestTransition(s.ctx, kc.Ref, engine.EventDocumentsComplete, "agent-1")
	s.Require().NoError(err)

	sub, err := s.store.GetSubmission(s.ctx, kc.Ref)
	s.Require().NoError(err)
	return sub
}

func (s *SubmitterSuite) caseStatus(ref string) models.KycStatus {
	kc, err := s.store.GetCase(s.ctx, ref)
	s.Require().NoError(err)
	return kc.Status
}

func (s *SubmitterSuite) notificationTypes(caseRef string) []models.NotificationType {
	notifications, err := s.store.ListNotifications(s.ctx, caseRef)
	s.Require().NoError(err)
	types := make([]models.NotificationType, 0, len(notifications))
	for _, n := range notifications {
		types = append(types, n.Type)
	}
	return types
}

func (s *SubmitterSuite) TestAcceptedApprovesCase() {
	sub := s.submittedCase()
	s.gateway.outcome = gateway.Outcome{Disposition: gateway.Accepted, CdmsCustomerID: "CDMS-001", Code: "OK"}

	s.Require().NoError(s.submitter.Process(s.ctx, sub))

	got, err := s.store.GetSubmission(s.ctx, sub.CaseRef)
	s.Require().NoError(err)
	s.Equal(models.SubmissionSuccess, got.Status)
	s.Equal(1, got.Attempts)
	s.Equal("CDMS-001", got.CdmsCustomerID)
	s.Require().NotNil(got.SubmittedAt)
	s.Nil(got.NextRetryAt)

	s.Equal(models.StatusApproved, s.caseStatus(sub.CaseRef))
	s.Contains(s.notificationTypes(sub.CaseRef), models.NotifySubmissionSuccess)
}

func (s *SubmitterSuite) TestRejectedClosesCase() {
	sub := s.submittedCase()
	s.gateway.outcome = gateway.Outcome{Disposition: gateway.Rejected, Code: "DUPLICATE", Message: "already registered"}

	s.Require().NoError(s.submitter.Process(s.ctx, sub))

	got, err := s.store.GetSubmission(s.ctx, sub.CaseRef)
	s.Require().NoError(err)
	s.Equal(models.SubmissionFailed, got.Status)
	s.Equal("DUPLICATE", got.ResponseCode)

	s.Equal(models.StatusRejected, s.caseStatus(sub.CaseRef))
	s.Contains(s.notificationTypes(sub.CaseRef), models.NotifySubmissionFailed)
}

func (s *SubmitterSuite) TestTransientSchedulesRetry() {
	sub := s.submittedCase()
	s.gateway.outcome = gateway.Outcome{Disposition: gateway.Transient, Code: "HTTP_503"}

	s.Require().NoError(s.submitter.Process(s.ctx, sub))

	got, err := s.store.GetSubmission(s.ctx, sub.CaseRef)
	s.Require().NoError(err)
	s.Equal(models.SubmissionPending, got.Status)
	s.Equal(1, got.Attempts)
	s.Require().NotNil(got.LastAttemptAt)
	s.Require().NotNil(got.NextRetryAt)
	s.True(got.NextRetryAt.After(*got.LastAttemptAt), "next retry must land after the last attempt")
	s.Equal(got.LastAttemptAt.Add(5*time.Minute), *got.NextRetryAt)

	s.Equal(models.StatusSubmitted, s.caseStatus(sub.CaseRef))
}

func (s *SubmitterSuite) TestRetryExhaustionParksCase() {
	sub := s.submittedCase()
	s.gateway.outcome = gateway.Outcome{Disposition: gateway.Transient, Code: "HTTP_502"}

	for i := 0; i < 3; i++ {
		current, err := s.store.GetSubmission(s.ctx, sub.CaseRef)
		s.Require().NoError(err)
		s.Require().NoError(s.submitter.Process(s.ctx, current))
		s.clock.Advance(time.Hour)
	}

	s.Equal(3, s.gateway.calls)
	got, err := s.store.GetSubmission(s.ctx, sub.CaseRef)
	s.Require().NoError(err)
	s.Equal(models.SubmissionRetryExhausted, got.Status)
	s.Equal(3, got.Attempts)
	s.Nil(got.NextRetryAt)

	s.Equal(models.StatusFailed, s.caseStatus(sub.CaseRef))
	s.Contains(s.notificationTypes(sub.CaseRef), models.NotifySubmissionFailed)
}

func (s *SubmitterSuite) TestExhaustedRecordSkipsGateway() {
	sub := s.submittedCase()
	sub.Attempts = 3
	updated, err := s.store.PutSubmission(s.ctx, sub, sub.Version)
	s.Require().NoError(err)

	s.Require().NoError(s.submitter.Process(s.ctx, updated))

	s.Equal(0, s.gateway.calls, "a record at the attempt limit must not hit the gateway")
	got, err := s.store.GetSubmission(s.ctx, sub.CaseRef)
	s.Require().NoError(err)
	s.Equal(models.SubmissionRetryExhausted, got.Status)
	s.Equal(models.StatusFailed, s.caseStatus(sub.CaseRef))
}

func (s *SubmitterSuite) TestExhaustionCountsOutcomeNotAttempt() {
	m := metrics.New()
	backoff := policy.Backoff{Base: 5 * time.Minute, Factor: 3, Cap: 2 * time.Hour, Jitter: 0}
	submitter := NewSubmitter(s.store, s.gateway, s.engine, backoff, 3,
		WithClock(s.clock.Now), WithLogger(logger.Discard()), WithMetrics(m))

	sub := s.submittedCase()
	sub.Attempts = 3
	updated, err := s.store.PutSubmission(s.ctx, sub, sub.Version)
	s.Require().NoError(err)

	s.Require().NoError(submitter.Process(s.ctx, updated))

	s.Equal(0.0, testutil.ToFloat64(m.SubmissionAttempts), "exhaustion settles without a gateway call")
	s.Equal(1.0, testutil.ToFloat64(m.SubmissionOutcomes.WithLabelValues("exhausted")))
}

func (s *SubmitterSuite) TestClosedCaseDiscardsSubmission() {
	sub := s.submittedCase()
	_, err := s.engine.RequestTransition(s.ctx, sub.CaseRef, engine.EventExpire, engine.SystemActor)
	s.Require().NoError(err)

	s.Require().NoError(s.submitter.Process(s.ctx, sub))

	s.Equal(0, s.gateway.calls)
	got, err := s.store.GetSubmission(s.ctx, sub.CaseRef)
	s.Require().NoError(err)
	s.Equal(models.SubmissionFailed, got.Status)
	s.Contains(got.ResponseMessage, "case closed")
}

func (s *SubmitterSuite) TestTerminalSubmissionIsNoop() {
	sub := s.submittedCase()
	sub.Status = models.SubmissionSuccess
	s.Require().NoError(s.submitter.Process(s.ctx, sub))
	s.Equal(0, s.gateway.calls)
}

func (s *SubmitterSuite) TestSubmitRunsFirstAttempt() {
	sub := s.submittedCase()
	s.gateway.outcome = gateway.Outcome{Disposition: gateway.Transient, Code: "HTTP_503"}

	s.Require().NoError(s.submitter.Submit(s.ctx, sub.CaseRef))

	s.Equal(1, s.gateway.calls, "submitting must try the gateway immediately")
	got, err := s.store.GetSubmission(s.ctx, sub.CaseRef)
	s.Require().NoError(err)
	s.Equal(sub.Ref, got.Ref, "the pending record is reused, not duplicated")
	s.Equal(models.SubmissionPending, got.Status)
	s.Equal(1, got.Attempts)
	s.Require().NotNil(got.NextRetryAt)
	s.Equal(s.clock.now.Add(5*time.Minute), *got.NextRetryAt)
}

func (s *SubmitterSuite) TestSubmitReplacesSettledRecord() {
	sub := s.submittedCase()
	sub.Status = models.SubmissionRetryExhausted
	sub.Attempts = 3
	_, err := s.store.PutSubmission(s.ctx, sub, sub.Version)
	s.Require().NoError(err)

	s.gateway.outcome = gateway.Outcome{Disposition: gateway.Transient, Code: "HTTP_503"}
	s.Require().NoError(s.submitter.Submit(s.ctx, sub.CaseRef))

	got, err := s.store.GetSubmission(s.ctx, sub.CaseRef)
	s.Require().NoError(err)
	s.NotEqual(sub.Ref, got.Ref, "a settled record starts a fresh cycle under a new ref")
	s.Equal(models.SubmissionPending, got.Status)
	s.Equal(1, got.Attempts, "the old cycle's attempt count never carries over or rewinds")
	s.Equal(1, s.gateway.calls)
}

func (s *SubmitterSuite) TestGatewayErrorTreatedAsTransient() {
	sub := s.submittedCase()
	s.gateway.err = context.DeadlineExceeded

	s.Require().NoError(s.submitter.Process(s.ctx, sub))

	got, err := s.store.GetSubmission(s.ctx, sub.CaseRef)
	s.Require().NoError(err)
	s.Equal(models.SubmissionPending, got.Status)
	s.Equal(1, got.Attempts)
	s.Require().NotNil(got.NextRetryAt)
}
