package insurance

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// =============================================================================
// NOTIFICATION MODEL
// =============================================================================

// Stage is one of the three lead-time notifications sent before expiry.
type Stage string

const (
	StageFirst    Stage = "first"
	StageFollowUp Stage = "followup"
	StageDeadline Stage = "deadline"
)

// Stages lists every stage in evaluation order.
var Stages = []Stage{StageFirst, StageFollowUp, StageDeadline}

func ParseStage(s string) (Stage, error) {
	switch st := Stage(strings.ToLower(strings.TrimSpace(s))); st {
	case StageFirst, StageFollowUp, StageDeadline:
		return st, nil
	default:
		return "", fmt.Errorf("unknown notification stage %q", s)
	}
}

// NotificationSettings holds the global lead thresholds in days.
type NotificationSettings struct {
	DefaultLeadDays  int       `json:"defaultLeadDays"`
	FollowUpLeadDays int       `json:"followUpLeadDays"`
	DeadlineLeadDays int       `json:"deadlineLeadDays"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// DefaultNotificationSettings are used when no settings row exists yet.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		DefaultLeadDays:  30,
		FollowUpLeadDays: 10,
		DeadlineLeadDays: 0,
	}
}

// Validate checks that no threshold is negative.
func (s NotificationSettings) Validate() error {
	verr := &ValidationError{}
	if s.DefaultLeadDays < 0 {
		verr.Add("defaultLeadDays", "must not be negative")
	}
	if s.FollowUpLeadDays < 0 {
		verr.Add("followUpLeadDays", "must not be negative")
	}
	if s.DeadlineLeadDays < 0 {
		verr.Add("deadlineLeadDays", "must not be negative")
	}
	return verr.OrNil()
}

// Recipient receives notification emails. An empty AssetID marks a global
// recipient used for assets without their own list.
type Recipient struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	AssetID   string    `json:"assetId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsGlobal reports whether the recipient applies to all assets.
func (r Recipient) IsGlobal() bool { return r.AssetID == "" }

// ValidateEmail checks that s is a bare email address.
func ValidateEmail(s string) error {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return &ValidationError{Fields: []FieldError{{Field: "email", Message: fmt.Sprintf("invalid email address %q", s)}}}
	}
	return nil
}

// NotificationLog marks a (policy, stage) pair as sent. Rows are only ever
// inserted.
type NotificationLog struct {
	PolicyID string    `json:"policyId"`
	Stage    Stage     `json:"stage"`
	SentAt   time.Time `json:"sentAt"`
}
