/*
scenarios.go - Demo data sets for local development and demonstrations

AVAILABLE SCENARIOS:
  empty:            Wipe all assets and global recipients
  demo-fleet:       A vehicle due for a follow-up reminder, an expired
                    machine, an insured person and a global recipient
  renewal-history:  A vehicle renewed twice, showing archived versions

HOW SCENARIOS WORK:
  1. Delete every asset (policies cascade) and every global recipient
  2. Create assets through the Manager, dates relative to today
  3. Renew or add recipients where the scenario needs it

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "demo-fleet"}

NOTE:
  Scenarios wipe data. The routes are mounted only when
  server.demo_scenarios is true.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/insurance-tracker/insurance"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "empty",
		Name:        "Empty",
		Description: "No assets, no global recipients",
	},
	{
		ID:          "demo-fleet",
		Name:        "Demo Fleet",
		Description: "KIA Sorento 10 days before expiry, expired Caterpillar 320, insured employee",
	},
	{
		ID:          "renewal-history",
		Name:        "Renewal History",
		Description: "Vehicle with two archived policy versions and one active",
	},
}

// ListScenarios returns the available demo data sets.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario wipes data and loads the selected data set.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var load func(context.Context, insurance.Date) error
	switch req.ScenarioID {
	case "empty":
		load = func(context.Context, insurance.Date) error { return nil }
	case "demo-fleet":
		load = h.loadDemoFleet
	case "renewal-history":
		load = h.loadRenewalHistory
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.resetData(ctx); err != nil {
		h.writeDomainError(w, "Failed to reset data", err)
		return
	}
	if err := load(ctx, insurance.DateOf(h.Now())); err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.Logger.Info("scenario loaded", map[string]interface{}{"scenario": req.ScenarioID})
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": req.ScenarioID})
}

func (h *Handler) resetData(ctx context.Context) error {
	assets, err := h.Manager.ListAssets(ctx, h.Now())
	if err != nil {
		return err
	}
	for _, a := range assets {
		if err := h.Manager.DeleteAsset(ctx, a.ID); err != nil {
			return err
		}
	}

	recipients, err := h.Manager.ListRecipients(ctx, "")
	if err != nil {
		return err
	}
	for _, rc := range recipients {
		if err := h.Manager.DeleteRecipient(ctx, rc.ID); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadDemoFleet(ctx context.Context, today insurance.Date) error {
	kia, err := h.Manager.CreateAsset(ctx, insurance.AssetInput{
		Name:              "KIA Sorento",
		Type:              insurance.AssetVehicle,
		Identifier:        "KR 55522",
		ResponsiblePerson: "Jan Kowalski",
		Notes:             "Technical inspection due in March.",
		Policy: &insurance.PolicyInput{
			PolicyNumber: "POL-2025-1",
			Insurer:      "PZU",
			ValidFrom:    today.AddDays(-355),
			ValidUntil:   today.AddDays(10),
			Premium:      decimal.NewFromInt(1200),
			SumInsured:   decimal.NewNullDecimal(decimal.NewFromInt(150000)),
			LeasingRef:   "L-998877",
			Insured:      "Insurak Sp. z o.o.",
		},
	})
	if err != nil {
		return err
	}

	if _, err := h.Manager.CreateAsset(ctx, insurance.AssetInput{
		Name:              "Caterpillar 320",
		Type:              insurance.AssetMachine,
		Identifier:        "CAT-320-X99",
		ResponsiblePerson: "Site A4",
		Policy: &insurance.PolicyInput{
			PolicyNumber:     "POL-2025-2",
			Insurer:          "Warta",
			ValidFrom:        today.AddDays(-385),
			ValidUntil:       today.AddDays(-20),
			Premium:          decimal.NewFromInt(4500),
			SumInsured:       decimal.NewNullDecimal(decimal.NewFromInt(450000)),
			PaymentFrequency: insurance.PaymentQuarterly,
		},
	}); err != nil {
		return err
	}

	if _, err := h.Manager.CreateAsset(ctx, insurance.AssetInput{
		Name:       "Anna Nowak",
		Type:       insurance.AssetPerson,
		Identifier: "EMP-0042",
		Policy: &insurance.PolicyInput{
			PolicyNumber:     "NNW-7781",
			Insurer:          "Allianz",
			ValidFrom:        today.AddDays(-30),
			ValidUntil:       today.AddDays(335),
			Premium:          decimal.NewFromInt(39),
			PaymentFrequency: insurance.PaymentMonthly,
			Insured:          "Anna Nowak",
		},
	}); err != nil {
		return err
	}

	if _, err := h.Manager.AddRecipient(ctx, "office@example.com", ""); err != nil {
		return err
	}
	_, err = h.Manager.AddRecipient(ctx, "fleet@example.com", kia.ID)
	return err
}

func (h *Handler) loadRenewalHistory(ctx context.Context, today insurance.Date) error {
	start := today.AddDays(-2 * 365)
	asset, err := h.Manager.CreateAsset(ctx, insurance.AssetInput{
		Name:       "Toyota Hilux",
		Type:       insurance.AssetVehicle,
		Identifier: "WX 1234A",
		Policy:     renewalVersion("HLX-1", start, decimal.NewFromInt(2100)),
	})
	if err != nil {
		return err
	}

	for i, premium := range []int64{2250, 2400} {
		from := start.AddDays((i + 1) * 365)
		in := renewalVersion(fmt.Sprintf("HLX-%d", i+2), from, decimal.NewFromInt(premium))
		if _, err := h.Manager.RenewPolicy(ctx, asset.ID, *in); err != nil {
			return err
		}
	}
	return nil
}

func renewalVersion(number string, from insurance.Date, premium decimal.Decimal) *insurance.PolicyInput {
	return &insurance.PolicyInput{
		PolicyNumber: number,
		Insurer:      "Ergo Hestia",
		ValidFrom:    from,
		ValidUntil:   insurance.DateOf(from.Time.AddDate(1, 0, -1)),
		Premium:      premium,
	}
}
