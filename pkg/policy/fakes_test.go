package policy

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeSites struct {
	sites map[string]SiteRecord
	err   error
}

func newFakeSites() *fakeSites {
	return &fakeSites{sites: make(map[string]SiteRecord)}
}

func (f *fakeSites) add(token, siteURL string, managed bool) *fakeSites {
	f.sites[token+"|"+siteURL] = SiteRecord{Exists: true, IsManaged: managed}
	return f
}

func (f *fakeSites) LookupSite(_ context.Context, userToken, siteURL string) (SiteRecord, error) {
	if f.err != nil {
		return SiteRecord{}, f.err
	}
	return f.sites[userToken+"|"+siteURL], nil
}

type panicSites struct{}

func (panicSites) LookupSite(context.Context, string, string) (SiteRecord, error) {
	panic("directory exploded")
}

type fakeSubscriptions struct {
	sub *Subscription
	err error
}

func (f *fakeSubscriptions) LookupSubscription(context.Context, string, ActionType) (*Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.sub == nil {
		return nil, nil
	}
	s := *f.sub
	return &s, nil
}

type memApprovals struct {
	mu        sync.Mutex
	requests  map[string]*ApprovalRequest
	byAction  map[string]string
	submitErr error
}

func newMemApprovals() *memApprovals {
	return &memApprovals{
		requests: make(map[string]*ApprovalRequest),
		byAction: make(map[string]string),
	}
}

func (m *memApprovals) SubmitApproval(_ context.Context, req *ApprovalRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}
	if id, ok := m.byAction[req.ActionID]; ok {
		return id, nil
	}
	cp := *req
	m.requests[req.ID] = &cp
	m.byAction[req.ActionID] = req.ID
	return req.ID, nil
}

func (m *memApprovals) GetApproval(_ context.Context, id string) (*ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *memApprovals) DecideApproval(_ context.Context, id string, status ApprovalStatus, decidedBy, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return ErrApprovalNotFound
	}
	if req.Status != ApprovalPending {
		return ErrApprovalDecided
	}
	now := time.Now().UTC()
	req.Status = status
	req.DecidedAt = &now
	req.DecidedBy = decidedBy
	req.Note = note
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	results []ValidationResult
	err     error
}

func (m *memRecorder) RecordDecision(_ context.Context, _ ActionContext, result ValidationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return m.err
}

type stubGuardrails struct {
	findings []GuardrailFinding
	err      error
	seen     []GuardrailInput
}

func (s *stubGuardrails) EvaluateAction(_ context.Context, input GuardrailInput) ([]GuardrailFinding, error) {
	s.seen = append(s.seen, input)
	return s.findings, s.err
}

var errBoom = errors.New("boom")

type panicRecorder struct{}

func (panicRecorder) RecordDecision(context.Context, ActionContext, ValidationResult) error {
	panic("audit store exploded")
}

// flippingSites answers each lookup with the next record, repeating the last.
type flippingSites struct {
	mu      sync.Mutex
	records []SiteRecord
	calls   int
}

func (f *flippingSites) LookupSite(context.Context, string, string) (SiteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.records) {
		i = len(f.records) - 1
	}
	f.calls++
	return f.records[i], nil
}
