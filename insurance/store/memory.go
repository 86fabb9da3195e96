// Package store provides an in-memory insurance.Store for tests and local runs.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/insurance-tracker/insurance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps guarded by one mutex. WithTx is simulated
// with a snapshot that is restored when the callback fails.
type Memory struct {
	mu     sync.RWMutex
	state  *memState
	faults map[string]error
}

type logKey struct {
	PolicyID string
	Stage    insurance.Stage
}

type memState struct {
	assets     map[string]insurance.Asset
	policies   map[string]insurance.Policy
	settings   *insurance.NotificationSettings
	recipients []insurance.Recipient
	log        map[logKey]insurance.NotificationLog
	faults     map[string]error
}

var _ insurance.Store = (*Memory)(nil)

func NewMemory() *Memory {
	faults := make(map[string]error)
	return &Memory{
		faults: faults,
		state: &memState{
			assets:   make(map[string]insurance.Asset),
			policies: make(map[string]insurance.Policy),
			log:      make(map[logKey]insurance.NotificationLog),
			faults:   faults,
		},
	}
}

// FailOn makes every later call of the named operation (for example
// "InsertPolicy") return err. A nil err clears the fault.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

func (s *memState) fail(op string) error { return s.faults[op] }

// WithTx runs fn against the store and restores the previous state if fn
// returns an error.
func (m *Memory) WithTx(_ context.Context, fn func(insurance.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	c := &memState{
		assets:   make(map[string]insurance.Asset, len(s.assets)),
		policies: make(map[string]insurance.Policy, len(s.policies)),
		log:      make(map[logKey]insurance.NotificationLog, len(s.log)),
		faults:   s.faults,
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = clonePolicy(v)
	}
	for k, v := range s.log {
		c.log[k] = v
	}
	if s.settings != nil {
		settings := *s.settings
		c.settings = &settings
	}
	c.recipients = append([]insurance.Recipient(nil), s.recipients...)
	return c
}

func clonePolicy(p insurance.Policy) insurance.Policy {
	if p.Files != nil {
		p.Files = append([]insurance.Attachment(nil), p.Files...)
	}
	if p.NotificationOverrideDays != nil {
		days := *p.NotificationOverrideDays
		p.NotificationOverrideDays = &days
	}
	return p
}

// =============================================================================
// ASSETS
// =============================================================================

func (m *Memory) CreateAsset(ctx context.Context, a insurance.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateAsset(ctx, a)
}

func (m *Memory) UpdateAsset(ctx context.Context, a insurance.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateAsset(ctx, a)
}

func (m *Memory) GetAsset(ctx context.Context, id string) (*insurance.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetAsset(ctx, id)
}

func (m *Memory) FindAssetByIdentifier(ctx context.Context, identifier string) (*insurance.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FindAssetByIdentifier(ctx, identifier)
}

func (m *Memory) FindAssetsByIdentifiers(ctx context.Context, identifiers []string) ([]insurance.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FindAssetsByIdentifiers(ctx, identifiers)
}

func (m *Memory) ListAssets(ctx context.Context) ([]insurance.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListAssets(ctx)
}

func (m *Memory) DeleteAsset(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteAsset(ctx, id)
}

func (s *memState) CreateAsset(_ context.Context, a insurance.Asset) error {
	if err := s.fail("CreateAsset"); err != nil {
		return err
	}
	if s.identifierTaken(a.Identifier, a.ID) {
		return insurance.ErrDuplicateIdentifier
	}
	s.assets[a.ID] = a
	return nil
}

func (s *memState) UpdateAsset(_ context.Context, a insurance.Asset) error {
	if err := s.fail("UpdateAsset"); err != nil {
		return err
	}
	if _, ok := s.assets[a.ID]; !ok {
		return &insurance.NotFoundError{Kind: "asset", ID: a.ID}
	}
	if s.identifierTaken(a.Identifier, a.ID) {
		return insurance.ErrDuplicateIdentifier
	}
	s.assets[a.ID] = a
	return nil
}

func (s *memState) identifierTaken(identifier, exceptID string) bool {
	for id, a := range s.assets {
		if id != exceptID && a.Identifier == identifier {
			return true
		}
	}
	return false
}

func (s *memState) GetAsset(_ context.Context, id string) (*insurance.Asset, error) {
	if err := s.fail("GetAsset"); err != nil {
		return nil, err
	}
	a, ok := s.assets[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *memState) FindAssetByIdentifier(_ context.Context, identifier string) (*insurance.Asset, error) {
	if err := s.fail("FindAssetByIdentifier"); err != nil {
		return nil, err
	}
	for _, a := range s.assets {
		if a.Identifier == identifier {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memState) FindAssetsByIdentifiers(_ context.Context, identifiers []string) ([]insurance.Asset, error) {
	if err := s.fail("FindAssetsByIdentifiers"); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(identifiers))
	for _, id := range identifiers {
		wanted[id] = true
	}
	var out []insurance.Asset
	for _, a := range s.assets {
		if wanted[a.Identifier] {
			out = append(out, a)
		}
	}
	sortAssets(out)
	return out, nil
}

func (s *memState) ListAssets(_ context.Context) ([]insurance.Asset, error) {
	if err := s.fail("ListAssets"); err != nil {
		return nil, err
	}
	out := make([]insurance.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sortAssets(out)
	return out, nil
}

// sortAssets orders newest first, ties by id.
func sortAssets(assets []insurance.Asset) {
	sort.Slice(assets, func(i, j int) bool {
		if !assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].CreatedAt.After(assets[j].CreatedAt)
		}
		return assets[i].ID < assets[j].ID
	})
}

func (s *memState) DeleteAsset(_ context.Context, id string) (bool, error) {
	if err := s.fail("DeleteAsset"); err != nil {
		return false, err
	}
	if _, ok := s.assets[id]; !ok {
		return false, nil
	}
	delete(s.assets, id)
	for pid, p := range s.policies {
		if p.AssetID == id {
			delete(s.policies, pid)
		}
	}
	kept := s.recipients[:0]
	for _, r := range s.recipients {
		if r.AssetID != id {
			kept = append(kept, r)
		}
	}
	s.recipients = kept
	return true, nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) InsertPolicy(ctx context.Context, p insurance.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertPolicy(ctx, p)
}

func (m *Memory) UpdatePolicy(ctx context.Context, p insurance.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdatePolicy(ctx, p)
}

func (m *Memory) GetPolicy(ctx context.Context, id string) (*insurance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetPolicy(ctx, id)
}

func (m *Memory) LatestPolicy(ctx context.Context, assetID string) (*insurance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LatestPolicy(ctx, assetID)
}

func (m *Memory) LatestPolicies(ctx context.Context, assetIDs []string) (map[string]insurance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LatestPolicies(ctx, assetIDs)
}

func (m *Memory) PolicyHistory(ctx context.Context, assetID string) ([]insurance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.PolicyHistory(ctx, assetID)
}

func (m *Memory) ArchivePolicies(ctx context.Context, assetID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ArchivePolicies(ctx, assetID)
}

func (m *Memory) ListPoliciesByStatus(ctx context.Context, statuses ...insurance.Status) ([]insurance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListPoliciesByStatus(ctx, statuses...)
}

func (m *Memory) ListPolicies(ctx context.Context) ([]insurance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListPolicies(ctx)
}

func (m *Memory) AddAttachments(ctx context.Context, policyID string, files []insurance.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AddAttachments(ctx, policyID, files)
}

func (s *memState) InsertPolicy(_ context.Context, p insurance.Policy) error {
	if err := s.fail("InsertPolicy"); err != nil {
		return err
	}
	if _, ok := s.assets[p.AssetID]; !ok {
		return &insurance.NotFoundError{Kind: "asset", ID: p.AssetID}
	}
	s.policies[p.ID] = clonePolicy(p)
	return nil
}

func (s *memState) UpdatePolicy(_ context.Context, p insurance.Policy) error {
	if err := s.fail("UpdatePolicy"); err != nil {
		return err
	}
	existing, ok := s.policies[p.ID]
	if !ok {
		return &insurance.NotFoundError{Kind: "policy", ID: p.ID}
	}
	p.Files = existing.Files
	s.policies[p.ID] = clonePolicy(p)
	return nil
}

func (s *memState) GetPolicy(_ context.Context, id string) (*insurance.Policy, error) {
	if err := s.fail("GetPolicy"); err != nil {
		return nil, err
	}
	p, ok := s.policies[id]
	if !ok {
		return nil, nil
	}
	p = clonePolicy(p)
	return &p, nil
}

func (s *memState) LatestPolicy(ctx context.Context, assetID string) (*insurance.Policy, error) {
	if err := s.fail("LatestPolicy"); err != nil {
		return nil, err
	}
	history, _ := s.history(assetID)
	latest := insurance.LatestOf(history, true)
	if latest == nil {
		return nil, nil
	}
	p := *latest
	return &p, nil
}

func (s *memState) LatestPolicies(_ context.Context, assetIDs []string) (map[string]insurance.Policy, error) {
	if err := s.fail("LatestPolicies"); err != nil {
		return nil, err
	}
	out := make(map[string]insurance.Policy, len(assetIDs))
	for _, id := range assetIDs {
		history, _ := s.history(id)
		if latest := insurance.LatestOf(history, true); latest != nil {
			out[id] = clonePolicy(*latest)
		}
	}
	return out, nil
}

func (s *memState) PolicyHistory(_ context.Context, assetID string) ([]insurance.Policy, error) {
	if err := s.fail("PolicyHistory"); err != nil {
		return nil, err
	}
	return s.history(assetID)
}

func (s *memState) history(assetID string) ([]insurance.Policy, error) {
	var out []insurance.Policy
	for _, p := range s.policies {
		if p.AssetID == assetID {
			out = append(out, clonePolicy(p))
		}
	}
	sortPolicies(out)
	return out, nil
}

// sortPolicies orders by end date descending, ties newest first.
func sortPolicies(ps []insurance.Policy) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].EndDate.Equal(ps[j].EndDate) {
			return ps[i].EndDate.After(ps[j].EndDate)
		}
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

func (s *memState) ArchivePolicies(_ context.Context, assetID string) (int, error) {
	if err := s.fail("ArchivePolicies"); err != nil {
		return 0, err
	}
	n := 0
	for id, p := range s.policies {
		if p.AssetID == assetID && !p.IsArchived() {
			p.Status = insurance.StatusArchived
			s.policies[id] = p
			n++
		}
	}
	return n, nil
}

func (s *memState) ListPoliciesByStatus(_ context.Context, statuses ...insurance.Status) ([]insurance.Policy, error) {
	if err := s.fail("ListPoliciesByStatus"); err != nil {
		return nil, err
	}
	wanted := make(map[insurance.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var out []insurance.Policy
	for _, p := range s.policies {
		if wanted[p.Status] {
			out = append(out, clonePolicy(p))
		}
	}
	sortPolicies(out)
	return out, nil
}

func (s *memState) ListPolicies(_ context.Context) ([]insurance.Policy, error) {
	if err := s.fail("ListPolicies"); err != nil {
		return nil, err
	}
	out := make([]insurance.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, clonePolicy(p))
	}
	sortPolicies(out)
	return out, nil
}

func (s *memState) AddAttachments(_ context.Context, policyID string, files []insurance.Attachment) error {
	if err := s.fail("AddAttachments"); err != nil {
		return err
	}
	p, ok := s.policies[policyID]
	if !ok {
		return &insurance.NotFoundError{Kind: "policy", ID: policyID}
	}
	p.Files = append(append([]insurance.Attachment(nil), p.Files...), files...)
	s.policies[policyID] = p
	return nil
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (m *Memory) GetSettings(_ context.Context) (*insurance.NotificationSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.state.fail("GetSettings"); err != nil {
		return nil, err
	}
	if m.state.settings == nil {
		return nil, nil
	}
	s := *m.state.settings
	return &s, nil
}

func (m *Memory) SaveSettings(_ context.Context, s insurance.NotificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.state.fail("SaveSettings"); err != nil {
		return err
	}
	m.state.settings = &s
	return nil
}

func (m *Memory) ListRecipients(_ context.Context, assetID string) ([]insurance.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.state.fail("ListRecipients"); err != nil {
		return nil, err
	}
	var out []insurance.Recipient
	for _, r := range m.state.recipients {
		if r.AssetID == assetID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) AddRecipient(_ context.Context, r insurance.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.state.fail("AddRecipient"); err != nil {
		return err
	}
	m.state.recipients = append(m.state.recipients, r)
	return nil
}

func (m *Memory) DeleteRecipient(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.state.fail("DeleteRecipient"); err != nil {
		return false, err
	}
	for i, r := range m.state.recipients {
		if r.ID == id {
			m.state.recipients = append(m.state.recipients[:i:i], m.state.recipients[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) HasNotification(_ context.Context, policyID string, stage insurance.Stage) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.state.fail("HasNotification"); err != nil {
		return false, err
	}
	_, ok := m.state.log[logKey{PolicyID: policyID, Stage: stage}]
	return ok, nil
}

func (m *Memory) RecordNotification(_ context.Context, entry insurance.NotificationLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.state.fail("RecordNotification"); err != nil {
		return false, err
	}
	k := logKey{PolicyID: entry.PolicyID, Stage: entry.Stage}
	if _, exists := m.state.log[k]; exists {
		return false, nil
	}
	m.state.log[k] = entry
	return true, nil
}

func (m *Memory) ListNotifications(_ context.Context, policyID string) ([]insurance.NotificationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.state.fail("ListNotifications"); err != nil {
		return nil, err
	}
	var out []insurance.NotificationLog
	for _, stage := range insurance.Stages {
		if entry, ok := m.state.log[logKey{PolicyID: policyID, Stage: stage}]; ok {
			out = append(out, entry)
		}
	}
	return out, nil
}
