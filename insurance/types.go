/*
types.go - Core domain types for insured assets and their policies

PURPOSE:
  Defines the asset/policy model shared by the status engine, the renewal
  manager, the notification scheduler and the import reconciliation engine.

KEY CONCEPTS:
  Asset:   An insurable entity (vehicle, machine, person) identified by a
           unique business key (Identifier). Owns a policy history.
  Policy:  One insurance contract with a validity window [StartDate, EndDate].
  Current: The policy with the highest EndDate that is not ARCHIVED.
  History: Every policy of an asset, EndDate descending.

STATUS:
  Status is a closed set of variants. ARCHIVED and RENEWAL_IN_PROGRESS are
  explicit (sticky) states set by the user or by renewal. ACTIVE, EXPIRING
  and EXPIRED are derived from dates by ComputeStatus; the stored value for
  those is only a hint.

MONEY:
  Premium and sum insured use decimal.Decimal. Floats are never used for
  amounts.

SEE ALSO:
  - status.go: ComputeStatus / ComputeProgress
  - renewal.go: Versioning of policies
*/
package insurance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS - Policy lifecycle variant
// =============================================================================

// Status is the lifecycle state of a policy.
type Status int

const (
	StatusActive Status = iota
	StatusExpiring
	StatusExpired
	StatusArchived
	StatusRenewalInProgress
)

var statusNames = map[Status]string{
	StatusActive:            "ACTIVE",
	StatusExpiring:          "EXPIRING",
	StatusExpired:           "EXPIRED",
	StatusArchived:          "ARCHIVED",
	StatusRenewalInProgress: "RENEWAL_IN_PROGRESS",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus parses the wire name of a status (case-insensitive).
func ParseStatus(s string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for status, name := range statusNames {
		if name == upper {
			return status, nil
		}
	}
	return StatusActive, fmt.Errorf("unknown policy status %q", s)
}

// IsSticky reports whether the status is an explicit state that date math
// must not override.
func (s Status) IsSticky() bool {
	switch s {
	case StatusArchived, StatusRenewalInProgress:
		return true
	default:
		return false
	}
}

// Notifiable reports whether a policy stored with this status takes part in
// notification sweeps.
func (s Status) Notifiable() bool {
	switch s {
	case StatusActive, StatusRenewalInProgress, StatusExpiring:
		return true
	default:
		return false
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NotifiableStatuses lists the stored statuses the scheduler sweeps.
var NotifiableStatuses = []Status{StatusActive, StatusRenewalInProgress, StatusExpiring}

// =============================================================================
// ASSET
// =============================================================================

// AssetType classifies what is insured.
type AssetType string

const (
	AssetVehicle AssetType = "VEHICLE"
	AssetMachine AssetType = "MACHINE"
	AssetPerson  AssetType = "PERSON"
	AssetOther   AssetType = "OTHER"
)

// ParseAssetType parses an asset type; empty input defaults to OTHER.
func ParseAssetType(s string) (AssetType, error) {
	switch t := AssetType(strings.ToUpper(strings.TrimSpace(s))); t {
	case "":
		return AssetOther, nil
	case AssetVehicle, AssetMachine, AssetPerson, AssetOther:
		return t, nil
	default:
		return AssetOther, fmt.Errorf("unknown asset type %q", s)
	}
}

// Asset is an insurable entity.
type Asset struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Type              AssetType `json:"type"`
	Identifier        string    `json:"identifier"`
	ResponsiblePerson string    `json:"responsiblePerson"`
	Notes             string    `json:"notes"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// =============================================================================
// POLICY
// =============================================================================

// PaymentFrequency is how often the premium is paid.
type PaymentFrequency string

const (
	PaymentYearly    PaymentFrequency = "YEARLY"
	PaymentQuarterly PaymentFrequency = "QUARTERLY"
	PaymentMonthly   PaymentFrequency = "MONTHLY"
)

// ParsePaymentFrequency parses a frequency; empty input defaults to YEARLY.
func ParsePaymentFrequency(s string) (PaymentFrequency, error) {
	switch f := PaymentFrequency(strings.ToUpper(strings.TrimSpace(s))); f {
	case "":
		return PaymentYearly, nil
	case PaymentYearly, PaymentQuarterly, PaymentMonthly:
		return f, nil
	default:
		return PaymentYearly, fmt.Errorf("unknown payment frequency %q", s)
	}
}

// MonthsPerPayment returns how many months one premium payment covers.
func (f PaymentFrequency) MonthsPerPayment() int64 {
	switch f {
	case PaymentMonthly:
		return 1
	case PaymentQuarterly:
		return 3
	default:
		return 12
	}
}

// Attachment is metadata for a document stored alongside a policy.
type Attachment struct {
	ID           string    `json:"id"`
	PolicyID     string    `json:"policyId"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimetype"`
	Size         int64     `json:"size"`
	Path         string    `json:"path"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Policy is a single insurance contract for an asset.
type Policy struct {
	ID                       string              `json:"id"`
	AssetID                  string              `json:"assetId"`
	PolicyNumber             string              `json:"policyNumber"`
	Insurer                  string              `json:"insurer"`
	StartDate                Date                `json:"startDate"`
	EndDate                  Date                `json:"endDate"`
	PremiumAmount            decimal.Decimal     `json:"premiumAmount"`
	SumInsured               decimal.NullDecimal `json:"sumInsured"`
	PaymentFrequency         PaymentFrequency    `json:"paymentFrequency"`
	Status                   Status              `json:"status"`
	NotificationOverrideDays *int                `json:"notificationOverrideDays"`
	Files                    []Attachment        `json:"files"`
	LeasingRef               string              `json:"leasingRef"`
	Insured                  string              `json:"insured"`
	Comments                 string              `json:"comments"`
	CreatedAt                time.Time           `json:"createdAt"`
	UpdatedAt                time.Time           `json:"updatedAt"`
}

// ValidateTerm rejects a policy that ends before it starts. Partial updates
// call it after merging, since either date may come from storage.
func (p Policy) ValidateTerm() error {
	if !p.StartDate.IsZero() && !p.EndDate.IsZero() && p.EndDate.Before(p.StartDate) {
		return &ValidationError{Fields: []FieldError{{
			Field:   "validUntil",
			Message: fmt.Sprintf("%s must not be before validFrom %s", p.EndDate, p.StartDate),
		}}}
	}
	return nil
}

// IsArchived reports whether the policy has been superseded.
func (p Policy) IsArchived() bool { return p.Status == StatusArchived }

// LatestOf returns the policy with the highest EndDate, or nil.
// When includeArchived is false archived policies are ignored, which yields
// the asset's current policy.
func LatestOf(policies []Policy, includeArchived bool) *Policy {
	var latest *Policy
	for i := range policies {
		p := &policies[i]
		if !includeArchived && p.IsArchived() {
			continue
		}
		if latest == nil || p.EndDate.After(latest.EndDate) ||
			(p.EndDate.Equal(latest.EndDate) && p.CreatedAt.After(latest.CreatedAt)) {
			latest = p
		}
	}
	return latest
}
