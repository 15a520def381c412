package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"selfcare/internal/audit"
	"selfcare/internal/heatmeter/models"
	attemptStore "selfcare/internal/heatmeter/store/attempt"
	claimStore "selfcare/internal/heatmeter/store/claim"
	"selfcare/internal/ocr"
	id "selfcare/pkg/domain"
	"selfcare/pkg/requestcontext"
)

// =============================================================================
// Shared Service Fixture
// =============================================================================
// Justification for unit tests: the verification flows combine clock-driven
// windows, attempt caps, and outside collaborators (SMS, OCR, file storage).
// Memory stores plus fake collaborators let every timing branch be pinned
// exactly, which an E2E run against real gateways cannot do.

var testBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type serviceSuite struct {
	suite.Suite
	svc       *Service
	claims    *claimStore.InMemory
	attempts  *attemptStore.InMemory
	sender    *fakeSender
	extractor *fakeExtractor
	files     *fakeFileStore
	sink      *audit.InMemoryStore
	userID    id.UserID
}

func (s *serviceSuite) SetupTest() {
	s.claims = claimStore.NewInMemory()
	s.attempts = attemptStore.NewInMemory()
	s.sender = &fakeSender{}
	s.extractor = &fakeExtractor{}
	s.files = &fakeFileStore{}
	s.sink = audit.NewInMemoryStore()
	s.userID = id.UserID(uuid.New())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.svc = New(s.claims, s.attempts, s.sender, s.extractor, s.files,
		WithLogger(logger),
		WithAuditPublisher(audit.NewPublisher(s.sink, logger)),
	)
}

// at pins the request clock to testBase plus offset.
func (s *serviceSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), testBase.Add(offset))
}

// mustClaim registers a meter for the suite's user and returns the claim.
func (s *serviceSuite) mustClaim(ctx context.Context, meter string) *models.Claim {
	res, err := s.svc.Claim(ctx, s.userID, id.MeterNumber(meter), true)
	s.Require().NoError(err)
	s.Require().True(res.Created)
	return res.Claim
}

// sentCode reads the issued code straight from the challenge store; the SMS
// body is asserted separately.
func (s *serviceSuite) sentCode(ctx context.Context, meter id.MeterNumber) string {
	latest, err := s.attempts.FindLatest(ctx, s.userID, meter, models.TypeOTP)
	s.Require().NoError(err)
	return latest.Token
}

// actions flattens the audit trail for order-sensitive assertions.
func (s *serviceSuite) actions() []audit.Action {
	events := s.sink.All()
	out := make([]audit.Action, 0, len(events))
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

// =============================================================================
// Fake Collaborators
// =============================================================================

// fakeSender records messages and fails on demand.
type fakeSender struct {
	mu       sync.Mutex
	messages []sentMessage
	err      error
}

type sentMessage struct {
	Phone   string
	Message string
}

func (f *fakeSender) Send(ctx context.Context, phone, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, sentMessage{Phone: phone, Message: message})
	return nil
}

func (f *fakeSender) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return sentMessage{}
	}
	return f.messages[len(f.messages)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// fakeExtractor returns a canned extraction or error.
type fakeExtractor struct {
	extraction ocr.Extraction
	err        error
}

func (f *fakeExtractor) Extract(ctx context.Context, storedPath string) (ocr.Extraction, error) {
	if f.err != nil {
		return ocr.Extraction{}, f.err
	}
	return f.extraction, nil
}

// fakeFileStore hands out opaque paths without touching disk.
type fakeFileStore struct {
	saveErr error
	saved   int
}

func (f *fakeFileStore) Save(ctx context.Context, contentType string, r io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	_, _ = io.Copy(io.Discard, r)
	f.saved++
	return "invoices/" + uuid.NewString() + ".pdf", nil
}

func (f *fakeFileStore) Open(ctx context.Context, storedPath string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("%PDF-1.4")), nil
}
