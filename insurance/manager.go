/*
manager.go - Asset and policy operations on top of a Store

PURPOSE:
  Entry point for everything the HTTP layer does with assets: create,
  partial update, delete, list with computed status, history, attachments,
  notification settings and recipients. Renewal lives in renewal.go and the
  dashboard in dashboard.go.

ERRORS:
  Input problems are returned as *ValidationError before storage is touched.
  Missing assets are *NotFoundError. Storage failures are *PersistenceError.

SEE ALSO:
  - store.go: Store interface
  - factory/: boundary parsing into PolicyInput / AssetInput
*/
package insurance

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Manager coordinates asset and policy writes.
type Manager struct {
	Store           Store
	DefaultSettings NotificationSettings
	Now             func() time.Time
	NewID           func() string
}

// NewManager creates a manager with UUID ids and the wall clock.
func NewManager(store Store) *Manager {
	return &Manager{
		Store:           store,
		DefaultSettings: DefaultNotificationSettings(),
		Now:             time.Now,
		NewID:           uuid.NewString,
	}
}

// =============================================================================
// INPUTS
// =============================================================================

// PolicyInput carries the fields of a new policy version.
type PolicyInput struct {
	PolicyNumber             string
	Insurer                  string
	ValidFrom                Date
	ValidUntil               Date
	Premium                  decimal.Decimal
	SumInsured               decimal.NullDecimal
	PaymentFrequency         PaymentFrequency
	NotificationOverrideDays *int
	LeasingRef               string
	Insured                  string
	Comments                 string
	Files                    []Attachment
}

// ValidateForRenewal checks the fields a renewal requires.
func (in PolicyInput) ValidateForRenewal() error {
	verr := &ValidationError{}
	if strings.TrimSpace(in.PolicyNumber) == "" {
		verr.Add("policyNumber", "is required")
	}
	if strings.TrimSpace(in.Insurer) == "" {
		verr.Add("insurer", "is required")
	}
	in.validateCommon(verr)
	return verr.OrNil()
}

func (in PolicyInput) validateCommon(verr *ValidationError) {
	if in.ValidFrom.IsZero() {
		verr.Add("validFrom", "is required")
	}
	if in.ValidUntil.IsZero() {
		verr.Add("validUntil", "is required")
	}
	if !in.ValidFrom.IsZero() && !in.ValidUntil.IsZero() && in.ValidUntil.Before(in.ValidFrom) {
		verr.Add("validUntil", "must not be before validFrom")
	}
	if in.Premium.IsNegative() {
		verr.Add("premium", "must not be negative")
	}
	if in.SumInsured.Valid && in.SumInsured.Decimal.IsNegative() {
		verr.Add("sumInsured", "must not be negative")
	}
	if in.NotificationOverrideDays != nil && *in.NotificationOverrideDays < 0 {
		verr.Add("notificationOverrideDays", "must not be negative")
	}
}

// NewPolicy builds an ACTIVE policy row for assetID from the input. The
// input is not validated.
func (m *Manager) NewPolicy(assetID string, in PolicyInput, now time.Time) Policy {
	freq := in.PaymentFrequency
	if freq == "" {
		freq = PaymentYearly
	}
	p := Policy{
		ID:                       m.NewID(),
		AssetID:                  assetID,
		PolicyNumber:             strings.TrimSpace(in.PolicyNumber),
		Insurer:                  strings.TrimSpace(in.Insurer),
		StartDate:                in.ValidFrom,
		EndDate:                  in.ValidUntil,
		PremiumAmount:            in.Premium,
		SumInsured:               in.SumInsured,
		PaymentFrequency:         freq,
		Status:                   StatusActive,
		NotificationOverrideDays: in.NotificationOverrideDays,
		LeasingRef:               in.LeasingRef,
		Insured:                  in.Insured,
		Comments:                 in.Comments,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	p.Files = m.stampAttachments(p.ID, in.Files, now)
	return p
}

func (m *Manager) stampAttachments(policyID string, files []Attachment, now time.Time) []Attachment {
	out := make([]Attachment, len(files))
	for i, f := range files {
		if f.ID == "" {
			f.ID = m.NewID()
		}
		f.PolicyID = policyID
		if f.UploadedAt.IsZero() {
			f.UploadedAt = now
		}
		out[i] = f
	}
	return out
}

// AssetInput creates an asset and optionally its first policy.
type AssetInput struct {
	Name              string
	Type              AssetType
	Identifier        string
	ResponsiblePerson string
	Notes             string
	Policy            *PolicyInput
}

func (in AssetInput) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		verr.Add("name", "is required")
	}
	if strings.TrimSpace(in.Identifier) == "" {
		verr.Add("identifier", "is required")
	}
	if in.Policy != nil {
		if strings.TrimSpace(in.Policy.PolicyNumber) == "" {
			verr.Add("policyNumber", "is required when policy data is given")
		}
		in.Policy.validateCommon(verr)
	}
	return verr.OrNil()
}

// NewAsset builds an asset row from the input. The input is not validated.
func (m *Manager) NewAsset(in AssetInput, now time.Time) Asset {
	assetType := in.Type
	if assetType == "" {
		assetType = AssetOther
	}
	return Asset{
		ID:                m.NewID(),
		Name:              strings.TrimSpace(in.Name),
		Type:              assetType,
		Identifier:        strings.TrimSpace(in.Identifier),
		ResponsiblePerson: in.ResponsiblePerson,
		Notes:             in.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// AssetPatch is a partial update. Nil fields are left unchanged. Policy
// fields apply to the asset's latest policy.
type AssetPatch struct {
	Name              *string
	Type              *AssetType
	Identifier        *string
	ResponsiblePerson *string
	Notes             *string

	PolicyNumber             *string
	Insurer                  *string
	ValidFrom                *Date
	ValidUntil               *Date
	Premium                  *decimal.Decimal
	SumInsured               *decimal.Decimal
	PaymentFrequency         *PaymentFrequency
	Status                   *Status
	NotificationOverrideDays *int
	LeasingRef               *string
	Insured                  *string
	Comments                 *string
}

func (p AssetPatch) Validate() error {
	verr := &ValidationError{}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		verr.Add("name", "must not be empty")
	}
	if p.Identifier != nil && strings.TrimSpace(*p.Identifier) == "" {
		verr.Add("identifier", "must not be empty")
	}
	if p.Premium != nil && p.Premium.IsNegative() {
		verr.Add("premium", "must not be negative")
	}
	if p.SumInsured != nil && p.SumInsured.IsNegative() {
		verr.Add("sumInsured", "must not be negative")
	}
	if p.NotificationOverrideDays != nil && *p.NotificationOverrideDays < 0 {
		verr.Add("notificationOverrideDays", "must not be negative")
	}
	if p.Status != nil && *p.Status != StatusActive && *p.Status != StatusRenewalInProgress {
		verr.Add("status", "only ACTIVE or RENEWAL_IN_PROGRESS can be set directly")
	}
	return verr.OrNil()
}

// TouchesPolicy reports whether any policy field is set.
func (p AssetPatch) TouchesPolicy() bool {
	return p.PolicyNumber != nil || p.Insurer != nil || p.ValidFrom != nil || p.ValidUntil != nil ||
		p.Premium != nil || p.SumInsured != nil || p.PaymentFrequency != nil || p.Status != nil ||
		p.NotificationOverrideDays != nil || p.LeasingRef != nil || p.Insured != nil || p.Comments != nil
}

// =============================================================================
// VIEWS
// =============================================================================

// PolicyView is a policy with its status and progress computed at a point in time.
type PolicyView struct {
	Policy
	ComputedStatus Status `json:"computedStatus"`
	Progress       int    `json:"progress"`
}

// NewPolicyView computes status and progress for p at now.
func NewPolicyView(p Policy, now time.Time) PolicyView {
	return PolicyView{Policy: p, ComputedStatus: ComputeStatus(p, now), Progress: ComputeProgress(p, now)}
}

// AssetView is an asset with its current policy. Assets without a policy
// report EXPIRED and 0 progress.
type AssetView struct {
	Asset
	Status        Status  `json:"status"`
	Progress      int     `json:"progress"`
	CurrentPolicy *Policy `json:"currentPolicy,omitempty"`
}

// =============================================================================
// ASSET OPERATIONS
// =============================================================================

// CreateAsset stores a new asset and, when in.Policy is set, its first
// policy in the same transaction.
func (m *Manager) CreateAsset(ctx context.Context, in AssetInput) (*Asset, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := m.Now()
	asset := m.NewAsset(in, now)

	err := m.Store.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateAsset(ctx, asset); err != nil {
			if errors.Is(err, ErrDuplicateIdentifier) {
				return &ConflictError{Identifier: asset.Identifier}
			}
			return err
		}
		if in.Policy != nil {
			return tx.InsertPolicy(ctx, m.NewPolicy(asset.ID, *in.Policy, now))
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("create asset", err)
	}
	return &asset, nil
}

// UpdateAsset applies a partial update to the asset and its latest policy.
func (m *Manager) UpdateAsset(ctx context.Context, id string, patch AssetPatch) (*Asset, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	now := m.Now()
	var updated Asset
	err := m.Store.WithTx(ctx, func(tx Tx) error {
		asset, err := tx.GetAsset(ctx, id)
		if err != nil {
			return err
		}
		if asset == nil {
			return &NotFoundError{Kind: "asset", ID: id}
		}

		patch.ApplyToAsset(asset)
		asset.UpdatedAt = now
		if err := tx.UpdateAsset(ctx, *asset); err != nil {
			if errors.Is(err, ErrDuplicateIdentifier) {
				return &ConflictError{Identifier: asset.Identifier}
			}
			return err
		}
		updated = *asset

		if !patch.TouchesPolicy() {
			return nil
		}
		latest, err := tx.LatestPolicy(ctx, id)
		if err != nil || latest == nil {
			return err
		}
		patch.ApplyToPolicy(latest)
		if err := latest.ValidateTerm(); err != nil {
			return err
		}
		latest.UpdatedAt = now
		return tx.UpdatePolicy(ctx, *latest)
	})
	if err != nil {
		return nil, persistErr("update asset", err)
	}
	return &updated, nil
}

// ApplyToAsset copies the set asset fields onto a.
func (p AssetPatch) ApplyToAsset(a *Asset) {
	if p.Name != nil {
		a.Name = strings.TrimSpace(*p.Name)
	}
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Identifier != nil {
		a.Identifier = strings.TrimSpace(*p.Identifier)
	}
	if p.ResponsiblePerson != nil {
		a.ResponsiblePerson = *p.ResponsiblePerson
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
}

// ApplyToPolicy copies the set policy fields onto pol. Zero dates are ignored.
func (p AssetPatch) ApplyToPolicy(pol *Policy) {
	if p.PolicyNumber != nil {
		pol.PolicyNumber = *p.PolicyNumber
	}
	if p.Insurer != nil {
		pol.Insurer = *p.Insurer
	}
	if p.ValidFrom != nil && !p.ValidFrom.IsZero() {
		pol.StartDate = *p.ValidFrom
	}
	if p.ValidUntil != nil && !p.ValidUntil.IsZero() {
		pol.EndDate = *p.ValidUntil
	}
	if p.Premium != nil {
		pol.PremiumAmount = *p.Premium
	}
	if p.SumInsured != nil {
		pol.SumInsured = decimal.NewNullDecimal(*p.SumInsured)
	}
	if p.PaymentFrequency != nil {
		pol.PaymentFrequency = *p.PaymentFrequency
	}
	if p.Status != nil {
		pol.Status = *p.Status
	}
	if p.NotificationOverrideDays != nil {
		pol.NotificationOverrideDays = p.NotificationOverrideDays
	}
	if p.LeasingRef != nil {
		pol.LeasingRef = *p.LeasingRef
	}
	if p.Insured != nil {
		pol.Insured = *p.Insured
	}
	if p.Comments != nil {
		pol.Comments = *p.Comments
	}
}

// DeleteAsset removes an asset with its policies.
func (m *Manager) DeleteAsset(ctx context.Context, id string) error {
	found, err := m.Store.DeleteAsset(ctx, id)
	if err != nil {
		return persistErr("delete asset", err)
	}
	if !found {
		return &NotFoundError{Kind: "asset", ID: id}
	}
	return nil
}

// GetAsset returns one asset or a NotFoundError.
func (m *Manager) GetAsset(ctx context.Context, id string) (*Asset, error) {
	asset, err := m.Store.GetAsset(ctx, id)
	if err != nil {
		return nil, persistErr("get asset", err)
	}
	if asset == nil {
		return nil, &NotFoundError{Kind: "asset", ID: id}
	}
	return asset, nil
}

// ListAssets returns every asset with its current policy evaluated at now.
func (m *Manager) ListAssets(ctx context.Context, now time.Time) ([]AssetView, error) {
	assets, err := m.Store.ListAssets(ctx)
	if err != nil {
		return nil, persistErr("list assets", err)
	}
	policies, err := m.Store.ListPolicies(ctx)
	if err != nil {
		return nil, persistErr("list policies", err)
	}

	byAsset := make(map[string][]Policy)
	for _, p := range policies {
		byAsset[p.AssetID] = append(byAsset[p.AssetID], p)
	}

	views := make([]AssetView, 0, len(assets))
	for _, a := range assets {
		view := AssetView{Asset: a, Status: StatusExpired}
		if current := LatestOf(byAsset[a.ID], false); current != nil {
			cp := *current
			view.CurrentPolicy = &cp
			view.Status = ComputeStatus(cp, now)
			view.Progress = ComputeProgress(cp, now)
		}
		views = append(views, view)
	}
	return views, nil
}

// History returns every policy of the asset, end date descending, with
// computed status and progress.
func (m *Manager) History(ctx context.Context, assetID string, now time.Time) ([]PolicyView, error) {
	if _, err := m.GetAsset(ctx, assetID); err != nil {
		return nil, err
	}
	policies, err := m.Store.PolicyHistory(ctx, assetID)
	if err != nil {
		return nil, persistErr("policy history", err)
	}
	sort.SliceStable(policies, func(i, j int) bool {
		return policies[i].EndDate.After(policies[j].EndDate)
	})

	views := make([]PolicyView, len(policies))
	for i, p := range policies {
		views[i] = NewPolicyView(p, now)
	}
	return views, nil
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// AddAttachments appends attachment metadata to the asset's latest policy
// and returns the full list.
func (m *Manager) AddAttachments(ctx context.Context, assetID string, files []Attachment) ([]Attachment, error) {
	if len(files) == 0 {
		return nil, &ValidationError{Fields: []FieldError{{Field: "files", Message: "no files given"}}}
	}
	verr := &ValidationError{}
	for _, f := range files {
		if strings.TrimSpace(f.Filename) == "" {
			verr.Add("filename", "is required")
		}
		if f.Size < 0 {
			verr.Add("size", "must not be negative")
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	latest, err := m.latestPolicy(ctx, assetID)
	if err != nil {
		return nil, err
	}

	stamped := m.stampAttachments(latest.ID, files, m.Now())
	if err := m.Store.AddAttachments(ctx, latest.ID, stamped); err != nil {
		return nil, persistErr("add attachments", err)
	}
	return append(latest.Files, stamped...), nil
}

// ListAttachments returns attachments of the asset's latest policy.
func (m *Manager) ListAttachments(ctx context.Context, assetID string) ([]Attachment, error) {
	latest, err := m.latestPolicy(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if latest.Files == nil {
		return []Attachment{}, nil
	}
	return latest.Files, nil
}

func (m *Manager) latestPolicy(ctx context.Context, assetID string) (*Policy, error) {
	latest, err := m.Store.LatestPolicy(ctx, assetID)
	if err != nil {
		return nil, persistErr("latest policy", err)
	}
	if latest == nil {
		return nil, &NotFoundError{Kind: "policy", ID: "latest for asset " + assetID}
	}
	return latest, nil
}

// =============================================================================
// NOTIFICATION SETTINGS & RECIPIENTS
// =============================================================================

// GetSettings returns the stored settings, creating them from
// DefaultSettings on first use.
func (m *Manager) GetSettings(ctx context.Context) (NotificationSettings, error) {
	s, err := m.Store.GetSettings(ctx)
	if err != nil {
		return NotificationSettings{}, persistErr("get settings", err)
	}
	if s != nil {
		return *s, nil
	}

	seeded := m.DefaultSettings
	seeded.UpdatedAt = m.Now()
	if err := m.Store.SaveSettings(ctx, seeded); err != nil {
		return NotificationSettings{}, persistErr("seed settings", err)
	}
	return seeded, nil
}

// UpdateSettings replaces the global notification thresholds.
func (m *Manager) UpdateSettings(ctx context.Context, s NotificationSettings) (NotificationSettings, error) {
	if err := s.Validate(); err != nil {
		return NotificationSettings{}, err
	}
	s.UpdatedAt = m.Now()
	if err := m.Store.SaveSettings(ctx, s); err != nil {
		return NotificationSettings{}, persistErr("save settings", err)
	}
	return s, nil
}

// ListRecipients lists recipients of one asset, or the global list when
// assetID is empty.
func (m *Manager) ListRecipients(ctx context.Context, assetID string) ([]Recipient, error) {
	rs, err := m.Store.ListRecipients(ctx, assetID)
	if err != nil {
		return nil, persistErr("list recipients", err)
	}
	if rs == nil {
		rs = []Recipient{}
	}
	return rs, nil
}

// AddRecipient registers an email for one asset or, with an empty assetID,
// for all assets.
func (m *Manager) AddRecipient(ctx context.Context, email, assetID string) (*Recipient, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "email", Message: "is required"}}}
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if assetID != "" {
		if _, err := m.GetAsset(ctx, assetID); err != nil {
			return nil, err
		}
	}

	r := Recipient{ID: m.NewID(), Email: email, AssetID: assetID, CreatedAt: m.Now()}
	if err := m.Store.AddRecipient(ctx, r); err != nil {
		return nil, persistErr("add recipient", err)
	}
	return &r, nil
}

// DeleteRecipient removes a recipient.
func (m *Manager) DeleteRecipient(ctx context.Context, id string) error {
	found, err := m.Store.DeleteRecipient(ctx, id)
	if err != nil {
		return persistErr("delete recipient", err)
	}
	if !found {
		return &NotFoundError{Kind: "recipient", ID: id}
	}
	return nil
}
