/*
dto.go - Request and response shapes of the HTTP API

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

  Asset and policy request bodies live in factory/request.go because the
  import path shares their parsing.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/insurance-tracker/factory"
	"github.com/warp/insurance-tracker/insurance"
)

// AssetDTO is one row of the asset list: the asset flattened with its
// current policy, status and progress.
type AssetDTO struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Type              insurance.AssetType `json:"type"`
	Identifier        string              `json:"identifier"`
	Status            insurance.Status    `json:"status"`
	Progress          int                 `json:"progress"`
	PolicyID          string              `json:"policyId,omitempty"`
	PolicyNumber      string              `json:"policyNumber"`
	Insurer           string              `json:"insurer"`
	ValidFrom         string              `json:"validFrom"`
	ValidUntil        string              `json:"validUntil"`
	ConclusionDate    string              `json:"conclusionDate"`
	Premium           decimal.Decimal     `json:"premium"`
	SumInsured        decimal.Decimal     `json:"sumInsured"`
	PaymentFrequency  string              `json:"paymentFrequency"`
	LeasingRef        string              `json:"leasingRef"`
	Insured           string              `json:"insured"`
	ResponsiblePerson string              `json:"responsiblePerson"`
	Comments          string              `json:"comments"`
	Notes             string              `json:"notes"`
}

func toAssetDTO(v insurance.AssetView) AssetDTO {
	dto := AssetDTO{
		ID:                v.ID,
		Name:              v.Name,
		Type:              v.Type,
		Identifier:        v.Identifier,
		Status:            v.Status,
		Progress:          v.Progress,
		PaymentFrequency:  string(insurance.PaymentYearly),
		ResponsiblePerson: v.ResponsiblePerson,
		Notes:             v.Notes,
	}
	if p := v.CurrentPolicy; p != nil {
		dto.PolicyID = p.ID
		dto.PolicyNumber = p.PolicyNumber
		dto.Insurer = p.Insurer
		dto.ValidFrom = p.StartDate.String()
		dto.ValidUntil = p.EndDate.String()
		dto.ConclusionDate = insurance.DateOf(p.CreatedAt).String()
		dto.Premium = p.PremiumAmount
		dto.SumInsured = p.SumInsured.Decimal
		dto.PaymentFrequency = string(p.PaymentFrequency)
		dto.LeasingRef = p.LeasingRef
		dto.Insured = p.Insured
		dto.Comments = p.Comments
	}
	return dto
}

// FilesDTO wraps the attachment list returned after an upload.
type FilesDTO struct {
	Files []insurance.Attachment `json:"files"`
}

// AddFilesRequest carries metadata of files already stored by the caller.
type AddFilesRequest struct {
	Files []factory.AttachmentRequest `json:"files"`
}

// RecipientRequest adds a notification recipient. An empty AssetID adds a
// global recipient.
type RecipientRequest struct {
	Email   string `json:"email"`
	AssetID string `json:"assetId"`
}

// SettingsRequest replaces the notification thresholds.
type SettingsRequest struct {
	DefaultLeadDays  *int `json:"defaultLeadDays"`
	FollowUpLeadDays *int `json:"followUpLeadDays"`
	DeadlineLeadDays *int `json:"deadlineLeadDays"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo data set.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}
