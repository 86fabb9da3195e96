package factory

import (
	"github.com/warp/insurance-tracker/insurance"
)

// AttachmentRequest is attachment metadata sent by the client.
type AttachmentRequest struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	Path         string `json:"path"`
}

// ToAttachments converts request metadata to domain attachments.
func ToAttachments(reqs []AttachmentRequest) []insurance.Attachment {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]insurance.Attachment, len(reqs))
	for i, r := range reqs {
		out[i] = insurance.Attachment{
			Filename:     r.Filename,
			OriginalName: r.OriginalName,
			MimeType:     r.MimeType,
			Size:         r.Size,
			Path:         r.Path,
		}
	}
	return out
}

// PolicyFields are the policy columns shared by create, update and renew.
type PolicyFields struct {
	PolicyNumber             string              `json:"policyNumber"`
	Insurer                  string              `json:"insurer"`
	ValidFrom                string              `json:"validFrom"`
	ValidUntil               string              `json:"validUntil"`
	Premium                  Amount              `json:"premium"`
	SumInsured               Amount              `json:"sumInsured"`
	PaymentFrequency         string              `json:"paymentFrequency"`
	NotificationOverrideDays *int                `json:"notificationOverrideDays"`
	LeasingRef               string              `json:"leasingRef"`
	Insured                  string              `json:"insured"`
	Comments                 string              `json:"comments"`
	Files                    []AttachmentRequest `json:"files"`
}

// RenewRequest is the body of POST /api/assets/{id}/renew.
type RenewRequest struct {
	PolicyFields
}

// ToInput converts the request. Malformed dates are reported as validation
// errors; missing fields are left for ValidateForRenewal.
func (r RenewRequest) ToInput() (insurance.PolicyInput, error) {
	verr := &insurance.ValidationError{}
	in := r.policyInput(verr)
	if !r.Premium.Set {
		verr.Add("premium", "is required")
	}
	return in, verr.OrNil()
}

func (f PolicyFields) policyInput(verr *insurance.ValidationError) insurance.PolicyInput {
	freq, err := insurance.ParsePaymentFrequency(f.PaymentFrequency)
	if err != nil {
		verr.Add("paymentFrequency", err.Error())
	}
	var from, until insurance.Date
	if p := datePtr(verr, "validFrom", f.ValidFrom); p != nil {
		from = *p
	}
	if p := datePtr(verr, "validUntil", f.ValidUntil); p != nil {
		until = *p
	}
	return insurance.PolicyInput{
		PolicyNumber:             f.PolicyNumber,
		Insurer:                  f.Insurer,
		ValidFrom:                from,
		ValidUntil:               until,
		Premium:                  f.Premium.OrZero(),
		SumInsured:               f.SumInsured.Null(),
		PaymentFrequency:         freq,
		NotificationOverrideDays: f.NotificationOverrideDays,
		LeasingRef:               f.LeasingRef,
		Insured:                  f.Insured,
		Comments:                 f.Comments,
		Files:                    ToAttachments(f.Files),
	}
}

// CreateAssetRequest is the body of POST /api/assets. Policy fields are
// optional; a policy is created when policyNumber is present.
type CreateAssetRequest struct {
	Name              string `json:"name"`
	Type              string `json:"type"`
	Identifier        string `json:"identifier"`
	ResponsiblePerson string `json:"responsiblePerson"`
	Notes             string `json:"notes"`
	PolicyFields
}

// ToInput converts the request. When a policy is created, missing dates
// default to today.
func (r CreateAssetRequest) ToInput(today insurance.Date) (insurance.AssetInput, error) {
	verr := &insurance.ValidationError{}
	assetType, err := insurance.ParseAssetType(r.Type)
	if err != nil {
		verr.Add("type", err.Error())
	}
	in := insurance.AssetInput{
		Name:              r.Name,
		Type:              assetType,
		Identifier:        r.Identifier,
		ResponsiblePerson: r.ResponsiblePerson,
		Notes:             r.Notes,
	}
	if r.PolicyNumber != "" {
		policy := r.policyInput(verr)
		if r.ValidFrom == "" {
			policy.ValidFrom = today
		}
		if r.ValidUntil == "" {
			policy.ValidUntil = today
		}
		in.Policy = &policy
	}
	return in, verr.OrNil()
}

// UpdateAssetRequest is the body of PUT /api/assets/{id}. Absent fields are
// left unchanged.
type UpdateAssetRequest struct {
	Name                     *string `json:"name"`
	Type                     *string `json:"type"`
	Identifier               *string `json:"identifier"`
	ResponsiblePerson        *string `json:"responsiblePerson"`
	Notes                    *string `json:"notes"`
	PolicyNumber             *string `json:"policyNumber"`
	Insurer                  *string `json:"insurer"`
	ValidFrom                *string `json:"validFrom"`
	ValidUntil               *string `json:"validUntil"`
	Premium                  *Amount `json:"premium"`
	SumInsured               *Amount `json:"sumInsured"`
	PaymentFrequency         *string `json:"paymentFrequency"`
	Status                   *string `json:"status"`
	NotificationOverrideDays *int    `json:"notificationOverrideDays"`
	LeasingRef               *string `json:"leasingRef"`
	Insured                  *string `json:"insured"`
	Comments                 *string `json:"comments"`
}

// ToPatch converts the request. Empty date strings are ignored.
func (r UpdateAssetRequest) ToPatch() (insurance.AssetPatch, error) {
	verr := &insurance.ValidationError{}
	p := insurance.AssetPatch{
		Name:                     r.Name,
		Identifier:               r.Identifier,
		ResponsiblePerson:        r.ResponsiblePerson,
		Notes:                    r.Notes,
		PolicyNumber:             r.PolicyNumber,
		Insurer:                  r.Insurer,
		NotificationOverrideDays: r.NotificationOverrideDays,
		LeasingRef:               r.LeasingRef,
		Insured:                  r.Insured,
		Comments:                 r.Comments,
	}
	if r.Type != nil {
		t, err := insurance.ParseAssetType(*r.Type)
		if err != nil {
			verr.Add("type", err.Error())
		}
		p.Type = &t
	}
	if r.ValidFrom != nil {
		p.ValidFrom = datePtr(verr, "validFrom", *r.ValidFrom)
	}
	if r.ValidUntil != nil {
		p.ValidUntil = datePtr(verr, "validUntil", *r.ValidUntil)
	}
	if r.Premium != nil {
		p.Premium = r.Premium.Ptr()
	}
	if r.SumInsured != nil {
		p.SumInsured = r.SumInsured.Ptr()
	}
	if r.PaymentFrequency != nil {
		freq, err := insurance.ParsePaymentFrequency(*r.PaymentFrequency)
		if err != nil {
			verr.Add("paymentFrequency", err.Error())
		}
		p.PaymentFrequency = &freq
	}
	if r.Status != nil {
		s, err := insurance.ParseStatus(*r.Status)
		if err != nil {
			verr.Add("status", err.Error())
		}
		p.Status = &s
	}
	if err := verr.OrNil(); err != nil {
		return insurance.AssetPatch{}, err
	}
	return p, nil
}
