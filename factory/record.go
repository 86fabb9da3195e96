/*
Package factory converts boundary payloads into insurance domain values.

PURPOSE:
  Spreadsheet rows and HTTP request bodies arrive as loosely typed JSON.
  The factory turns them into insurance.AssetInput, insurance.PolicyInput
  and insurance.AssetPatch so that the domain never sees raw strings for
  dates, amounts or enums.

IMPORT RECORDS:
  {
    "identifier": "CAT-320-X99",
    "name": "Excavator CAT 320",
    "type": "MACHINE",
    "policyNumber": "PL-2025-0042",
    "insurer": "Allianz",
    "validFrom": "2025-01-01",
    "validUntil": "2025-12-31",
    "premium": "1250,50",
    "sumInsured": 180000
  }

  Import rows are fail-soft: a missing name falls back to the identifier,
  an unknown asset type becomes OTHER and missing policy dates default to
  the import day. Malformed dates and amounts are errors for that row only.

REQUESTS:
  CreateAssetRequest, UpdateAssetRequest and RenewRequest mirror the JSON
  bodies of the asset endpoints. See request.go.

SEE ALSO:
  - importer/: consumes ImportRecord
  - api/handlers.go: consumes the request types
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/insurance-tracker/insurance"
)

// =============================================================================
// IMPORT RECORD
// =============================================================================

// ImportRecord is one spreadsheet row.
type ImportRecord struct {
	Identifier        string `json:"identifier"`
	Name              string `json:"name"`
	Type              string `json:"type,omitempty"`
	PolicyNumber      string `json:"policyNumber"`
	Insurer           string `json:"insurer,omitempty"`
	ValidFrom         string `json:"validFrom,omitempty"`
	ValidUntil        string `json:"validUntil,omitempty"`
	Premium           Amount `json:"premium"`
	SumInsured        Amount `json:"sumInsured"`
	PaymentFrequency  string `json:"paymentFrequency,omitempty"`
	LeasingRef        string `json:"leasingRef,omitempty"`
	Insured           string `json:"insured,omitempty"`
	ResponsiblePerson string `json:"responsiblePerson,omitempty"`
	Comments          string `json:"comments,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// ImportBatch is the body of the import endpoints.
type ImportBatch struct {
	Records     []ImportRecord    `json:"records"`
	Resolutions map[string]string `json:"resolutions,omitempty"`
}

// ParseImportBatch decodes an import request body.
func ParseImportBatch(body []byte) (*ImportBatch, error) {
	var batch ImportBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse import JSON: %w", err)
	}
	return &batch, nil
}

// Normalize returns the record with every text cell trimmed.
func (r ImportRecord) Normalize() ImportRecord {
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Name = strings.TrimSpace(r.Name)
	r.Type = strings.TrimSpace(r.Type)
	r.PolicyNumber = strings.TrimSpace(r.PolicyNumber)
	r.Insurer = strings.TrimSpace(r.Insurer)
	r.ValidFrom = strings.TrimSpace(r.ValidFrom)
	r.ValidUntil = strings.TrimSpace(r.ValidUntil)
	r.PaymentFrequency = strings.TrimSpace(r.PaymentFrequency)
	r.LeasingRef = strings.TrimSpace(r.LeasingRef)
	r.Insured = strings.TrimSpace(r.Insured)
	r.ResponsiblePerson = strings.TrimSpace(r.ResponsiblePerson)
	r.Comments = strings.TrimSpace(r.Comments)
	r.Notes = strings.TrimSpace(r.Notes)
	return r
}

// HasPolicyData reports whether the row carries enough to create a policy.
func (r ImportRecord) HasPolicyData() bool {
	return r.PolicyNumber != "" || r.ValidFrom != "" || r.ValidUntil != ""
}

// AssetInput converts a row for an identifier that does not exist yet.
// The policy is included only when HasPolicyData is true.
func (r ImportRecord) AssetInput(today insurance.Date) (insurance.AssetInput, error) {
	in := insurance.AssetInput{
		Name:              r.Name,
		Type:              lenientAssetType(r.Type),
		Identifier:        r.Identifier,
		ResponsiblePerson: r.ResponsiblePerson,
		Notes:             r.Notes,
	}
	if in.Name == "" {
		in.Name = r.Identifier
	}
	if !r.HasPolicyData() {
		return in, nil
	}
	policy, err := r.PolicyInput(today)
	if err != nil {
		return insurance.AssetInput{}, err
	}
	in.Policy = &policy
	return in, nil
}

// PolicyInput converts the policy cells of a row. Missing dates default to
// today and a missing premium to zero.
func (r ImportRecord) PolicyInput(today insurance.Date) (insurance.PolicyInput, error) {
	verr := &insurance.ValidationError{}
	from := dateOr(verr, "validFrom", r.ValidFrom, today)
	until := dateOr(verr, "validUntil", r.ValidUntil, today)
	freq, err := insurance.ParsePaymentFrequency(r.PaymentFrequency)
	if err != nil {
		verr.Add("paymentFrequency", err.Error())
	}
	if r.ValidFrom != "" && r.ValidUntil != "" && until.Before(from) {
		verr.Add("validUntil", "must not be before validFrom")
	}
	if r.Premium.OrZero().IsNegative() {
		verr.Add("premium", "must not be negative")
	}
	if err := verr.OrNil(); err != nil {
		return insurance.PolicyInput{}, err
	}

	sumInsured := r.SumInsured.Null()
	if !sumInsured.Valid {
		sumInsured = NewAmount(r.SumInsured.OrZero()).Null()
	}
	return insurance.PolicyInput{
		PolicyNumber:     r.PolicyNumber,
		Insurer:          r.Insurer,
		ValidFrom:        from,
		ValidUntil:       until,
		Premium:          r.Premium.OrZero(),
		SumInsured:       sumInsured,
		PaymentFrequency: freq,
		LeasingRef:       r.LeasingRef,
		Insured:          r.Insured,
		Comments:         r.Comments,
	}, nil
}

// Patch converts a row for an existing asset into a merge patch. Empty
// cells are left nil so they never blank out stored values. An unknown
// asset type keeps the stored type.
func (r ImportRecord) Patch() (insurance.AssetPatch, error) {
	var p insurance.AssetPatch
	verr := &insurance.ValidationError{}

	p.Name = nonEmpty(r.Name)
	if r.Type != "" {
		if t, err := insurance.ParseAssetType(r.Type); err == nil {
			p.Type = &t
		}
	}
	p.ResponsiblePerson = nonEmpty(r.ResponsiblePerson)
	p.Notes = nonEmpty(r.Notes)

	p.PolicyNumber = nonEmpty(r.PolicyNumber)
	p.Insurer = nonEmpty(r.Insurer)
	p.ValidFrom = datePtr(verr, "validFrom", r.ValidFrom)
	p.ValidUntil = datePtr(verr, "validUntil", r.ValidUntil)
	p.Premium = r.Premium.Ptr()
	p.SumInsured = r.SumInsured.Ptr()
	if r.PaymentFrequency != "" {
		freq, err := insurance.ParsePaymentFrequency(r.PaymentFrequency)
		if err != nil {
			verr.Add("paymentFrequency", err.Error())
		} else {
			p.PaymentFrequency = &freq
		}
	}
	p.LeasingRef = nonEmpty(r.LeasingRef)
	p.Insured = nonEmpty(r.Insured)
	p.Comments = nonEmpty(r.Comments)

	if err := verr.OrNil(); err != nil {
		return insurance.AssetPatch{}, err
	}
	if err := p.Validate(); err != nil {
		return insurance.AssetPatch{}, err
	}
	return p, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func lenientAssetType(s string) insurance.AssetType {
	t, err := insurance.ParseAssetType(s)
	if err != nil {
		return insurance.AssetOther
	}
	return t
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func dateOr(verr *insurance.ValidationError, field, raw string, fallback insurance.Date) insurance.Date {
	if raw == "" {
		return fallback
	}
	d, err := insurance.ParseDate(raw)
	if err != nil {
		verr.Add(field, err.Error())
		return fallback
	}
	return d
}

func datePtr(verr *insurance.ValidationError, field, raw string) *insurance.Date {
	if raw == "" {
		return nil
	}
	d, err := insurance.ParseDate(raw)
	if err != nil {
		verr.Add(field, err.Error())
		return nil
	}
	return &d
}
