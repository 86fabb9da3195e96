package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-tracker/factory"
	"github.com/warp/insurance-tracker/insurance"
)

var importDay = insurance.MustParseDate("2025-06-01")

func TestAmount_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		set   bool
	}{
		{"number", `1250.5`, "1250.5", true},
		{"string", `"1250.50"`, "1250.5", true},
		{"comma decimal", `"1250,50"`, "1250.5", true},
		{"thousands", `"1,250.50"`, "1250.5", true},
		{"spaces", `" 12 500 "`, "12500", true},
		{"dot grouping, comma decimal", `"1.234,50"`, "1234.5", true},
		{"comma grouping, dot decimal", `"1,234.50"`, "1234.5", true},
		{"space grouping, comma decimal", `"1 234,50"`, "1234.5", true},
		{"repeated dot grouping", `"1.234.567"`, "1234567", true},
		{"repeated comma grouping", `"1,250,000"`, "1250000", true},
		{"grouped with decimals", `"1.234.567,89"`, "1234567.89", true},
		{"empty string", `""`, "0", false},
		{"null", `null`, "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a factory.Amount
			require.NoError(t, json.Unmarshal([]byte(tt.input), &a))
			assert.Equal(t, tt.set, a.Set)
			assert.Equal(t, tt.want, a.OrZero().String())
		})
	}
}

func TestAmount_RejectsGarbage(t *testing.T) {
	var a factory.Amount
	assert.Error(t, json.Unmarshal([]byte(`"twelve"`), &a))
}

func TestParseAmount_RejectsAmbiguousSeparators(t *testing.T) {
	for _, raw := range []string{"1,234.5.6", "1.2,3,4"} {
		t.Run(raw, func(t *testing.T) {
			_, err := factory.ParseAmount(raw)
			assert.Error(t, err)
		})
	}
}

func TestParseImportBatch(t *testing.T) {
	body := `{"records":[{"identifier":" KIA-01 ","name":"KIA Sorento","policyNumber":"PL-1","premium":"900"}],
		"resolutions":{"KIA-01":"SKIP"}}`

	batch, err := factory.ParseImportBatch([]byte(body))
	require.NoError(t, err)

	require.Len(t, batch.Records, 1)
	assert.Equal(t, "KIA-01", batch.Records[0].Normalize().Identifier)
	assert.True(t, batch.Records[0].Premium.Value.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, "SKIP", batch.Resolutions["KIA-01"])
}

func TestImportRecord_AssetInputDefaults(t *testing.T) {
	// GIVEN a row with only an identifier and a policy number
	rec := factory.ImportRecord{Identifier: "NEW-001", PolicyNumber: "PL-9", Type: "spaceship"}

	// WHEN converted for a new asset
	in, err := rec.AssetInput(importDay)
	require.NoError(t, err)

	// THEN the gaps are filled the fail-soft way
	assert.Equal(t, "NEW-001", in.Name)
	assert.Equal(t, insurance.AssetOther, in.Type)
	require.NotNil(t, in.Policy)
	assert.True(t, in.Policy.ValidFrom.Equal(importDay))
	assert.True(t, in.Policy.ValidUntil.Equal(importDay))
	assert.True(t, in.Policy.Premium.IsZero())
	assert.True(t, in.Policy.SumInsured.Valid)
	assert.Equal(t, insurance.PaymentYearly, in.Policy.PaymentFrequency)
}

func TestImportRecord_NoPolicyData(t *testing.T) {
	rec := factory.ImportRecord{Identifier: "BARE-1", Name: "Forklift", Type: "machine"}

	in, err := rec.AssetInput(importDay)
	require.NoError(t, err)

	assert.Nil(t, in.Policy)
	assert.Equal(t, insurance.AssetMachine, in.Type)
}

func TestImportRecord_InvalidDate(t *testing.T) {
	rec := factory.ImportRecord{Identifier: "BAD-1", ValidUntil: "31.12.2025"}

	_, err := rec.AssetInput(importDay)

	assert.ErrorIs(t, err, insurance.ErrValidation)
}

func TestImportRecord_PatchSkipsEmptyCells(t *testing.T) {
	rec := factory.ImportRecord{
		Identifier: "CAT-320-X99",
		Insurer:    "Allianz",
		ValidUntil: "2026-01-31",
		Premium:    factory.NewAmount(decimal.NewFromInt(1400)),
	}

	p, err := rec.Patch()
	require.NoError(t, err)

	assert.Nil(t, p.Name)
	assert.Nil(t, p.PolicyNumber)
	assert.Nil(t, p.Notes)
	assert.Nil(t, p.SumInsured)
	require.NotNil(t, p.Insurer)
	assert.Equal(t, "Allianz", *p.Insurer)
	require.NotNil(t, p.ValidUntil)
	assert.Equal(t, "2026-01-31", p.ValidUntil.String())
	require.NotNil(t, p.Premium)
	assert.True(t, p.Premium.Equal(decimal.NewFromInt(1400)))
}

func TestImportRecord_PatchIgnoresUnknownType(t *testing.T) {
	p, err := factory.ImportRecord{Identifier: "X", Type: "boat"}.Patch()
	require.NoError(t, err)
	assert.Nil(t, p.Type)
}

func TestRenewRequest_ToInput(t *testing.T) {
	var req factory.RenewRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"policyNumber": "PL-2",
		"insurer": "Warta",
		"validFrom": "2025-06-11",
		"validUntil": "2026-06-10",
		"premium": 1200,
		"paymentFrequency": "quarterly",
		"notificationOverrideDays": 45,
		"files": [{"filename": "pl-2.pdf", "size": 2048}]
	}`), &req))

	in, err := req.ToInput()
	require.NoError(t, err)

	assert.Equal(t, "PL-2", in.PolicyNumber)
	assert.Equal(t, insurance.PaymentQuarterly, in.PaymentFrequency)
	assert.Equal(t, "2026-06-10", in.ValidUntil.String())
	require.NotNil(t, in.NotificationOverrideDays)
	assert.Equal(t, 45, *in.NotificationOverrideDays)
	assert.False(t, in.SumInsured.Valid)
	require.Len(t, in.Files, 1)
	assert.Equal(t, "pl-2.pdf", in.Files[0].Filename)
	assert.NoError(t, in.ValidateForRenewal())
}

func TestRenewRequest_RequiresPremium(t *testing.T) {
	req := factory.RenewRequest{PolicyFields: factory.PolicyFields{
		PolicyNumber: "PL-2", Insurer: "Warta", ValidFrom: "2025-06-11", ValidUntil: "2026-06-10",
	}}

	_, err := req.ToInput()

	assert.ErrorIs(t, err, insurance.ErrValidation)
}

func TestCreateAssetRequest_ToInput(t *testing.T) {
	t.Run("with policy number", func(t *testing.T) {
		req := factory.CreateAssetRequest{
			Name: "KIA Sorento", Type: "VEHICLE", Identifier: "KR 1234",
			PolicyFields: factory.PolicyFields{PolicyNumber: "PL-1", ValidUntil: "2025-12-31"},
		}

		in, err := req.ToInput(importDay)
		require.NoError(t, err)

		require.NotNil(t, in.Policy)
		assert.True(t, in.Policy.ValidFrom.Equal(importDay))
		assert.Equal(t, "2025-12-31", in.Policy.ValidUntil.String())
	})

	t.Run("without policy number", func(t *testing.T) {
		req := factory.CreateAssetRequest{Name: "Jan", Type: "PERSON", Identifier: "EMP-7"}

		in, err := req.ToInput(importDay)
		require.NoError(t, err)
		assert.Nil(t, in.Policy)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := factory.CreateAssetRequest{Name: "x", Type: "boat", Identifier: "B"}.ToInput(importDay)
		assert.ErrorIs(t, err, insurance.ErrValidation)
	})
}

func TestUpdateAssetRequest_ToPatch(t *testing.T) {
	var req factory.UpdateAssetRequest
	require.NoError(t, json.Unmarshal([]byte(`{"notes":"","status":"renewal_in_progress","validFrom":"","premium":"99,90"}`), &req))

	p, err := req.ToPatch()
	require.NoError(t, err)

	require.NotNil(t, p.Notes)
	assert.Equal(t, "", *p.Notes)
	require.NotNil(t, p.Status)
	assert.Equal(t, insurance.StatusRenewalInProgress, *p.Status)
	assert.Nil(t, p.ValidFrom)
	require.NotNil(t, p.Premium)
	assert.Equal(t, "99.9", p.Premium.String())
	assert.Nil(t, p.Name)
}
