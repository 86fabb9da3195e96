package insurance_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-tracker/insurance"
	"github.com/warp/insurance-tracker/insurance/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = noon(2025, time.June, 1)

func newTestManager() (*insurance.Manager, *store.Memory) {
	mem := store.NewMemory()
	m := insurance.NewManager(mem)
	m.Now = func() time.Time { return testNow }
	seq := 0
	m.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	return m, mem
}

func policyInput(number string, from, until insurance.Date) *insurance.PolicyInput {
	return &insurance.PolicyInput{
		PolicyNumber: number,
		Insurer:      "Warta",
		ValidFrom:    from,
		ValidUntil:   until,
		Premium:      decimal.NewFromInt(1200),
	}
}

func createVehicle(t *testing.T, m *insurance.Manager, identifier string, policy *insurance.PolicyInput) *insurance.Asset {
	t.Helper()
	asset, err := m.CreateAsset(context.Background(), insurance.AssetInput{
		Name:       "Vehicle " + identifier,
		Type:       insurance.AssetVehicle,
		Identifier: identifier,
		Policy:     policy,
	})
	require.NoError(t, err)
	return asset
}

func strPtr(s string) *string { return &s }

// =============================================================================
// CREATE
// =============================================================================

func TestCreateAsset_WithFirstPolicy(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()

	asset := createVehicle(t, m, "KR 55522", policyInput("POL-1",
		insurance.NewDate(2025, time.January, 1), insurance.NewDate(2026, time.January, 1)))

	latest, err := mem.LatestPolicy(ctx, asset.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "POL-1", latest.PolicyNumber)
	assert.Equal(t, insurance.StatusActive, latest.Status)
	assert.Equal(t, insurance.PaymentYearly, latest.PaymentFrequency)
}

func TestCreateAsset_DefaultsTypeToOther(t *testing.T) {
	m, _ := newTestManager()

	asset, err := m.CreateAsset(context.Background(), insurance.AssetInput{Name: "Drill", Identifier: "D-1"})

	require.NoError(t, err)
	assert.Equal(t, insurance.AssetOther, asset.Type)
}

func TestCreateAsset_DuplicateIdentifierIsConflict(t *testing.T) {
	m, _ := newTestManager()
	createVehicle(t, m, "KR 1", nil)

	_, err := m.CreateAsset(context.Background(), insurance.AssetInput{Name: "Other", Identifier: "KR 1"})

	var conflict *insurance.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "KR 1", conflict.Identifier)
	assert.True(t, errors.Is(err, insurance.ErrConflict))
}

func TestCreateAsset_ValidationRejectsBeforeWrite(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()

	_, err := m.CreateAsset(ctx, insurance.AssetInput{
		Name:       "",
		Identifier: "X-1",
		Policy:     &insurance.PolicyInput{PolicyNumber: "P", Premium: decimal.NewFromInt(-5)},
	})

	var verr *insurance.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.GreaterOrEqual(t, len(verr.Fields), 3)

	assets, err := mem.ListAssets(ctx)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestCreateAsset_PolicyFailureRollsBackAsset(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()
	mem.FailOn("InsertPolicy", errors.New("disk full"))

	_, err := m.CreateAsset(ctx, insurance.AssetInput{
		Name:       "Truck",
		Identifier: "T-1",
		Policy:     policyInput("P-1", insurance.NewDate(2025, time.January, 1), insurance.NewDate(2026, time.January, 1)),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, insurance.ErrPersistence))
	found, err := mem.FindAssetByIdentifier(ctx, "T-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

// =============================================================================
// UPDATE / DELETE
// =============================================================================

func TestUpdateAsset_PatchesAssetAndLatestPolicy(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()
	asset := createVehicle(t, m, "KR 2", policyInput("P-1",
		insurance.NewDate(2025, time.January, 1), insurance.NewDate(2026, time.January, 1)))

	status := insurance.StatusRenewalInProgress
	updated, err := m.UpdateAsset(ctx, asset.ID, insurance.AssetPatch{
		ResponsiblePerson: strPtr("Anna"),
		Insurer:           strPtr("PZU"),
		Status:            &status,
	})

	require.NoError(t, err)
	assert.Equal(t, "Anna", updated.ResponsiblePerson)
	assert.Equal(t, asset.Name, updated.Name, "untouched fields stay")

	latest, err := mem.LatestPolicy(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, "PZU", latest.Insurer)
	assert.Equal(t, "P-1", latest.PolicyNumber)
	assert.Equal(t, insurance.StatusRenewalInProgress, latest.Status)
}

func TestUpdateAsset_RejectsDerivedStatus(t *testing.T) {
	m, _ := newTestManager()
	asset := createVehicle(t, m, "KR 3", nil)

	expired := insurance.StatusExpired
	_, err := m.UpdateAsset(context.Background(), asset.ID, insurance.AssetPatch{Status: &expired})

	assert.True(t, errors.Is(err, insurance.ErrValidation))
}

func TestUpdateAsset_RejectsEndBeforeStoredStart(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()

	// GIVEN a policy running 2025-01-01..2026-01-01
	asset := createVehicle(t, m, "KR 4", policyInput("P-4",
		insurance.NewDate(2025, time.January, 1), insurance.NewDate(2026, time.January, 1)))

	// WHEN only the end date is patched to fall before the stored start
	until := insurance.NewDate(2024, time.June, 1)
	_, err := m.UpdateAsset(ctx, asset.ID, insurance.AssetPatch{
		Name:       strPtr("Renamed"),
		ValidUntil: &until,
	})

	// THEN the merged term is rejected and nothing is written
	require.Error(t, err)
	assert.True(t, errors.Is(err, insurance.ErrValidation))
	assert.Contains(t, err.Error(), "validUntil")

	stored, err := mem.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.Name, stored.Name, "asset change rolls back with the policy")

	latest, err := mem.LatestPolicy(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, insurance.NewDate(2026, time.January, 1), latest.EndDate)
	assert.Equal(t, insurance.NewDate(2025, time.January, 1), latest.StartDate)
}

func TestUpdateAsset_UnknownAssetIsNotFound(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.UpdateAsset(context.Background(), "missing", insurance.AssetPatch{Name: strPtr("x")})

	assert.True(t, insurance.IsNotFound(err))
}

func TestDeleteAsset_CascadesPolicies(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()
	asset := createVehicle(t, m, "KR 4", policyInput("P-1",
		insurance.NewDate(2025, time.January, 1), insurance.NewDate(2026, time.January, 1)))

	require.NoError(t, m.DeleteAsset(ctx, asset.ID))

	policies, err := mem.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, policies)
	assert.True(t, insurance.IsNotFound(m.DeleteAsset(ctx, asset.ID)))
}

// =============================================================================
// LIST / HISTORY
// =============================================================================

func TestListAssets_ComputesCurrentStatus(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	createVehicle(t, m, "SOON", policyInput("P-1",
		insurance.NewDate(2024, time.June, 11), insurance.DateOf(testNow).AddDays(10)))
	createVehicle(t, m, "BARE", nil)

	views, err := m.ListAssets(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, views, 2)

	byIdentifier := map[string]insurance.AssetView{}
	for _, v := range views {
		byIdentifier[v.Identifier] = v
	}
	assert.Equal(t, insurance.StatusExpiring, byIdentifier["SOON"].Status)
	require.NotNil(t, byIdentifier["SOON"].CurrentPolicy)
	assert.Equal(t, insurance.StatusExpired, byIdentifier["BARE"].Status)
	assert.Nil(t, byIdentifier["BARE"].CurrentPolicy)
	assert.Equal(t, 0, byIdentifier["BARE"].Progress)
}

func TestHistory_OrderedByEndDateDescending(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	asset := createVehicle(t, m, "KR 5", policyInput("OLD",
		insurance.NewDate(2024, time.January, 1), insurance.NewDate(2025, time.January, 1)))

	_, err := m.RenewPolicy(ctx, asset.ID, *policyInput("NEW",
		insurance.NewDate(2025, time.January, 1), insurance.NewDate(2026, time.January, 1)))
	require.NoError(t, err)

	history, err := m.History(ctx, asset.ID, testNow)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "NEW", history[0].PolicyNumber)
	assert.Equal(t, insurance.StatusActive, history[0].ComputedStatus)
	assert.Equal(t, "OLD", history[1].PolicyNumber)
	assert.Equal(t, insurance.StatusArchived, history[1].ComputedStatus)
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func TestAttachments_AddToLatestPolicy(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	asset := createVehicle(t, m, "KR 6", policyInput("P-1",
		insurance.NewDate(2025, time.January, 1), insurance.NewDate(2026, time.January, 1)))

	files, err := m.AddAttachments(ctx, asset.ID, []insurance.Attachment{
		{Filename: "scan.pdf", OriginalName: "Polisa.pdf", MimeType: "application/pdf", Size: 2048},
	})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NotEmpty(t, files[0].ID)

	listed, err := m.ListAttachments(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Polisa.pdf", listed[0].OriginalName)
}

func TestAttachments_NoPolicyIsNotFound(t *testing.T) {
	m, _ := newTestManager()
	asset := createVehicle(t, m, "KR 7", nil)

	_, err := m.AddAttachments(context.Background(), asset.ID, []insurance.Attachment{{Filename: "a.pdf"}})

	assert.True(t, insurance.IsNotFound(err))
}

// =============================================================================
// SETTINGS & RECIPIENTS
// =============================================================================

func TestGetSettings_SeedsDefaults(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()

	s, err := m.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, s.DefaultLeadDays)
	assert.Equal(t, 10, s.FollowUpLeadDays)
	assert.Equal(t, 0, s.DeadlineLeadDays)

	stored, err := mem.GetSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestUpdateSettings_RejectsNegative(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.UpdateSettings(context.Background(), insurance.NotificationSettings{DefaultLeadDays: -1})

	assert.True(t, errors.Is(err, insurance.ErrValidation))
}

func TestRecipients_AddListDelete(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	asset := createVehicle(t, m, "KR 8", nil)

	global, err := m.AddRecipient(ctx, "fleet@example.com", "")
	require.NoError(t, err)
	_, err = m.AddRecipient(ctx, "driver@example.com", asset.ID)
	require.NoError(t, err)

	globals, err := m.ListRecipients(ctx, "")
	require.NoError(t, err)
	require.Len(t, globals, 1)
	assert.Equal(t, "fleet@example.com", globals[0].Email)

	scoped, err := m.ListRecipients(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)

	require.NoError(t, m.DeleteRecipient(ctx, global.ID))
	assert.True(t, insurance.IsNotFound(m.DeleteRecipient(ctx, global.ID)))
}

func TestAddRecipient_Validation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	_, err := m.AddRecipient(ctx, "not-an-email", "")
	assert.True(t, errors.Is(err, insurance.ErrValidation))

	_, err = m.AddRecipient(ctx, "ok@example.com", "no-such-asset")
	assert.True(t, insurance.IsNotFound(err))
}
