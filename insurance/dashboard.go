package insurance

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ActionReason explains why a policy needs attention.
type ActionReason string

const (
	ReasonExpired            ActionReason = "POLICY_EXPIRED"
	ReasonExpiring           ActionReason = "POLICY_EXPIRING"
	ReasonMissingData        ActionReason = "MISSING_POLICY_DATA"
	ReasonMissingDocument    ActionReason = "MISSING_POLICY_DOCUMENT"
	ReasonMissingResponsible ActionReason = "MISSING_RESPONSIBLE_PERSON"
	ReasonMissingInsured     ActionReason = "MISSING_INSURED"
	ReasonRenewalInProgress  ActionReason = "RENEWAL_IN_PROGRESS"
	ReasonArchived           ActionReason = "ARCHIVED"
)

// Severity grades an action item for display.
type Severity string

const (
	SeverityDanger  Severity = "danger"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

func (r ActionReason) Severity() Severity {
	switch r {
	case ReasonExpired:
		return SeverityDanger
	case ReasonRenewalInProgress, ReasonArchived:
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

// ActionItem is one policy that needs attention.
type ActionItem struct {
	AssetID   string       `json:"assetId"`
	AssetName string       `json:"assetName"`
	PolicyID  string       `json:"policyId"`
	Reason    ActionReason `json:"reason"`
	Severity  Severity     `json:"severity"`
	EndDate   Date         `json:"endDate"`
}

// CashflowEntry sums premiums of policies ending in one month.
type CashflowEntry struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// Dashboard aggregates policy counts and costs.
type Dashboard struct {
	ActivePolicies  int             `json:"activePolicies"`
	ExpiringSoon    int             `json:"expiringSoon"`
	ExpiredPolicies int             `json:"expiredPolicies"`
	TotalPolicies   int             `json:"totalPolicies"`
	MonthlyCost     decimal.Decimal `json:"monthlyCost"`
	ActionItems     []ActionItem    `json:"actionItems"`
	Cashflow        []CashflowEntry `json:"cashflow"`
}

// BuildDashboard computes the dashboard over every stored policy. Policies
// whose asset is missing from assets are still counted.
func BuildDashboard(assets []Asset, policies []Policy, now time.Time) Dashboard {
	byID := make(map[string]Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}

	d := Dashboard{
		TotalPolicies: len(policies),
		MonthlyCost:   decimal.Zero,
		ActionItems:   []ActionItem{},
		Cashflow:      []CashflowEntry{},
	}
	soon := now.Add(ExpiringWindowDays * 24 * time.Hour)
	cashflow := make(map[string]decimal.Decimal)

	for _, p := range policies {
		end := p.EndDate.Time
		live := p.Status.Notifiable()

		if live && end.After(now) {
			d.ActivePolicies++
			if !end.After(soon) {
				d.ExpiringSoon++
			}
		}
		if p.Status == StatusExpired || !end.After(now) {
			d.ExpiredPolicies++
		}

		months := decimal.NewFromInt(p.PaymentFrequency.MonthsPerPayment())
		d.MonthlyCost = d.MonthlyCost.Add(p.PremiumAmount.DivRound(months, 8))

		key := p.EndDate.MonthKey()
		cashflow[key] = cashflow[key].Add(p.PremiumAmount)

		asset := byID[p.AssetID]
		if reason, ok := actionReason(p, asset, now); ok {
			d.ActionItems = append(d.ActionItems, ActionItem{
				AssetID:   p.AssetID,
				AssetName: asset.Name,
				PolicyID:  p.ID,
				Reason:    reason,
				Severity:  reason.Severity(),
				EndDate:   p.EndDate,
			})
		}
	}
	d.MonthlyCost = d.MonthlyCost.Round(0)

	sort.SliceStable(d.ActionItems, func(i, j int) bool {
		return d.ActionItems[i].EndDate.Before(d.ActionItems[j].EndDate)
	})

	for month, amount := range cashflow {
		d.Cashflow = append(d.Cashflow, CashflowEntry{Month: month, Amount: amount})
	}
	sort.Slice(d.Cashflow, func(i, j int) bool { return d.Cashflow[i].Month < d.Cashflow[j].Month })

	return d
}

// actionReason returns the first matching reason, checked in priority order.
func actionReason(p Policy, a Asset, now time.Time) (ActionReason, bool) {
	if p.Status == StatusExpired || p.EndDate.Time.Before(now) {
		return ReasonExpired, true
	}
	if days := DaysToEnd(p, now); days >= 0 && days <= ExpiringWindowDays {
		return ReasonExpiring, true
	}

	switch {
	case p.PolicyNumber == "" || p.Insurer == "" || p.StartDate.IsZero() || p.EndDate.IsZero():
		return ReasonMissingData, true
	case len(p.Files) == 0:
		return ReasonMissingDocument, true
	case a.ResponsiblePerson == "":
		return ReasonMissingResponsible, true
	case p.Insured == "":
		return ReasonMissingInsured, true
	case p.Status == StatusRenewalInProgress:
		return ReasonRenewalInProgress, true
	case p.Status == StatusArchived:
		return ReasonArchived, true
	}
	return "", false
}

// Dashboard loads every asset and policy and builds the dashboard at now.
func (m *Manager) Dashboard(ctx context.Context, now time.Time) (Dashboard, error) {
	assets, err := m.Store.ListAssets(ctx)
	if err != nil {
		return Dashboard{}, persistErr("list assets", err)
	}
	policies, err := m.Store.ListPolicies(ctx)
	if err != nil {
		return Dashboard{}, persistErr("list policies", err)
	}
	return BuildDashboard(assets, policies, now), nil
}
