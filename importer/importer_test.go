package importer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/insurance-tracker/factory"
	"github.com/warp/insurance-tracker/importer"
	"github.com/warp/insurance-tracker/insurance"
	"github.com/warp/insurance-tracker/insurance/store"
	"github.com/warp/insurance-tracker/logger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	manager  *insurance.Manager
	mem      *store.Memory
	importer *importer.Importer
}

func newFixture(t *testing.T) *fixture {
	mem := store.NewMemory()
	m := insurance.NewManager(mem)
	m.Now = func() time.Time { return testNow }
	seq := 0
	m.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	return &fixture{manager: m, mem: mem, importer: importer.New(m, logger.NewTestLogger(t))}
}

// seedExcavator stores CAT-320-X99 with one policy.
func (f *fixture) seedExcavator(t *testing.T) *insurance.Asset {
	t.Helper()
	asset, err := f.manager.CreateAsset(context.Background(), insurance.AssetInput{
		Name:              "Excavator CAT 320",
		Type:              insurance.AssetMachine,
		Identifier:        "CAT-320-X99",
		ResponsiblePerson: "Anna Nowak",
		Notes:             "site B",
		Policy: &insurance.PolicyInput{
			PolicyNumber: "PL-OLD",
			Insurer:      "Warta",
			ValidFrom:    insurance.MustParseDate("2024-07-01"),
			ValidUntil:   insurance.MustParseDate("2025-06-30"),
			Premium:      decimal.NewFromInt(2400),
			LeasingRef:   "LS-77",
		},
	})
	require.NoError(t, err)
	return asset
}

func (f *fixture) snapshot(t *testing.T) ([]insurance.Asset, []insurance.Policy) {
	t.Helper()
	ctx := context.Background()
	assets, err := f.mem.ListAssets(ctx)
	require.NoError(t, err)
	policies, err := f.mem.ListPolicies(ctx)
	require.NoError(t, err)
	return assets, policies
}

func batch() []factory.ImportRecord {
	return []factory.ImportRecord{
		{
			Identifier: "CAT-320-X99",
			Insurer:    "Allianz",
			ValidFrom:  "2025-07-01",
			ValidUntil: "2026-06-30",
			Premium:    factory.NewAmount(decimal.NewFromInt(2600)),
		},
		{
			Identifier:   " NEW-001 ",
			Name:         "Forklift Linde",
			Type:         "MACHINE",
			PolicyNumber: "PL-NEW",
			ValidUntil:   "2026-01-31",
		},
		{Identifier: "   ", Name: "blank row"},
	}
}

// =============================================================================
// DRY RUN
// =============================================================================

func TestDryRun_PartitionsConflictsAndNewRecords(t *testing.T) {
	f := newFixture(t)
	existing := f.seedExcavator(t)

	result, err := f.importer.DryRun(context.Background(), batch())
	require.NoError(t, err)

	assert.Equal(t, 1, result.NewCount)
	assert.Equal(t, 1, result.UpdateCount)
	assert.Equal(t, 1, result.SkipCount)

	require.Len(t, result.Conflicts, 1)
	c := result.Conflicts[0]
	assert.Equal(t, "CAT-320-X99", c.Identifier)
	assert.Equal(t, existing.ID, c.Existing.ID)
	require.NotNil(t, c.Existing.LatestPolicy)
	assert.Equal(t, "PL-OLD", c.Existing.LatestPolicy.PolicyNumber)
	assert.Equal(t, "Allianz", c.Incoming.Insurer)

	require.Len(t, result.NewRecords, 1)
	assert.Equal(t, "NEW-001", result.NewRecords[0].Identifier)
}

func TestDryRun_IsReadOnly(t *testing.T) {
	f := newFixture(t)
	f.seedExcavator(t)
	assetsBefore, policiesBefore := f.snapshot(t)

	for i := 0; i < 3; i++ {
		_, err := f.importer.DryRun(context.Background(), batch())
		require.NoError(t, err)
	}

	assetsAfter, policiesAfter := f.snapshot(t)
	assert.Equal(t, assetsBefore, assetsAfter)
	assert.Equal(t, policiesBefore, policiesAfter)
}

func TestDryRun_EmptyBatch(t *testing.T) {
	f := newFixture(t)

	result, err := f.importer.DryRun(context.Background(), nil)
	require.NoError(t, err)

	assert.NotNil(t, result.Conflicts)
	assert.NotNil(t, result.NewRecords)
	assert.Zero(t, result.NewCount+result.UpdateCount+result.SkipCount)
}

// =============================================================================
// COMMIT
// =============================================================================

func TestCommit_UpdateAndAdd(t *testing.T) {
	// GIVEN CAT-320-X99 exists and NEW-001 does not
	f := newFixture(t)
	ctx := context.Background()
	existing := f.seedExcavator(t)

	// WHEN committing with UPDATE for the conflict
	result, err := f.importer.Commit(ctx, batch()[:2], map[string]importer.Resolution{
		"CAT-320-X99": importer.ResolutionUpdate,
	})
	require.NoError(t, err)

	// THEN one asset is added and one updated
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Skipped)
	assert.Empty(t, result.Failed)

	latest, err := f.mem.LatestPolicy(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Allianz", latest.Insurer)
	assert.Equal(t, "2026-06-30", latest.EndDate.String())
	assert.True(t, latest.PremiumAmount.Equal(decimal.NewFromInt(2600)))

	created, err := f.mem.FindAssetByIdentifier(ctx, "NEW-001")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "Forklift Linde", created.Name)
	assert.Equal(t, insurance.AssetMachine, created.Type)
	newPolicy, err := f.mem.LatestPolicy(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, newPolicy)
	assert.Equal(t, "PL-NEW", newPolicy.PolicyNumber)
	assert.Equal(t, "2025-06-01", newPolicy.StartDate.String(), "missing validFrom defaults to the import day")
}

func TestCommit_MergeNeverBlanksExistingValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := f.seedExcavator(t)

	// GIVEN a row that only changes the insurer
	_, err := f.importer.Commit(ctx, []factory.ImportRecord{
		{Identifier: "CAT-320-X99", Insurer: "PZU"},
	}, nil)
	require.NoError(t, err)

	// THEN every other stored value survives
	asset, err := f.mem.GetAsset(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Excavator CAT 320", asset.Name)
	assert.Equal(t, insurance.AssetMachine, asset.Type)
	assert.Equal(t, "Anna Nowak", asset.ResponsiblePerson)
	assert.Equal(t, "site B", asset.Notes)

	latest, err := f.mem.LatestPolicy(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "PZU", latest.Insurer)
	assert.Equal(t, "PL-OLD", latest.PolicyNumber)
	assert.Equal(t, "LS-77", latest.LeasingRef)
	assert.True(t, latest.PremiumAmount.Equal(decimal.NewFromInt(2400)))
	assert.Equal(t, "2025-06-30", latest.EndDate.String())
}

func TestCommit_SkipIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedExcavator(t)
	records := batch()[:1]
	skip := map[string]importer.Resolution{"CAT-320-X99": importer.ResolutionSkip}

	assetsBefore, policiesBefore := f.snapshot(t)
	for i := 0; i < 2; i++ {
		result, err := f.importer.Commit(ctx, records, skip)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Zero(t, result.Updated)
	}

	assetsAfter, policiesAfter := f.snapshot(t)
	assert.Equal(t, assetsBefore, assetsAfter)
	assert.Equal(t, policiesBefore, policiesAfter)
}

func TestCommit_ExistingAssetWithoutPolicyGetsOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asset, err := f.manager.CreateAsset(ctx, insurance.AssetInput{Name: "Jan Kowalski", Type: insurance.AssetPerson, Identifier: "EMP-7"})
	require.NoError(t, err)

	result, err := f.importer.Commit(ctx, []factory.ImportRecord{
		{Identifier: "EMP-7", PolicyNumber: "NNW-1", ValidFrom: "2025-01-01", ValidUntil: "2025-12-31"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	latest, err := f.mem.LatestPolicy(ctx, asset.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "NNW-1", latest.PolicyNumber)
	assert.Equal(t, insurance.StatusActive, latest.Status)
}

func TestCommit_DuplicateInBatchUpdatesTheFreshAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.importer.Commit(ctx, []factory.ImportRecord{
		{Identifier: "DUP-1", Name: "First"},
		{Identifier: "DUP-1", Name: "Second"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Updated)
	asset, err := f.mem.FindAssetByIdentifier(ctx, "DUP-1")
	require.NoError(t, err)
	assert.Equal(t, "Second", asset.Name)
}

func TestCommit_IsolatesRecordFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN a row with a malformed date between two valid rows
	records := []factory.ImportRecord{
		{Identifier: "OK-1"},
		{Identifier: "BAD-1", ValidUntil: "31.12.2025"},
		{Identifier: "OK-2"},
	}

	result, err := f.importer.Commit(ctx, records, nil)
	require.NoError(t, err)

	// THEN the valid rows land and the bad one is reported
	assert.Equal(t, 2, result.Added)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "BAD-1", result.Failed[0].Identifier)
	assert.Equal(t, 1, result.Failed[0].Index)
	assert.Contains(t, result.Failed[0].Error, "validUntil")

	bad, err := f.mem.FindAssetByIdentifier(ctx, "BAD-1")
	require.NoError(t, err)
	assert.Nil(t, bad)
}

func TestCommit_EndBeforeStoredStartIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN a stored policy starting 2024-07-01
	existing := f.seedExcavator(t)

	// WHEN a row carries only an end date earlier than that start
	result, err := f.importer.Commit(ctx, []factory.ImportRecord{
		{Identifier: "CAT-320-X99", ValidUntil: "2024-01-01"},
	}, nil)
	require.NoError(t, err)

	// THEN the row fails and the stored term is untouched
	assert.Equal(t, 0, result.Updated)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "CAT-320-X99", result.Failed[0].Identifier)
	assert.Contains(t, result.Failed[0].Error, "validUntil")

	latest, err := f.mem.LatestPolicy(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, insurance.MustParseDate("2024-07-01"), latest.StartDate)
	assert.Equal(t, insurance.MustParseDate("2025-06-30"), latest.EndDate)
}

func TestDryRun_LooksUpLatestPoliciesInOneCall(t *testing.T) {
	f := newFixture(t)
	f.seedExcavator(t)

	// GIVEN the per-asset lookup fails outright
	f.mem.FailOn("LatestPolicy", errors.New("per-asset lookup used"))

	// WHEN a preview runs over a batch with a conflicting row
	result, err := f.importer.DryRun(context.Background(), batch())

	// THEN the conflict still carries its latest policy from the batch lookup
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	require.NotNil(t, result.Conflicts[0].Existing.LatestPolicy)
	assert.Equal(t, "PL-OLD", result.Conflicts[0].Existing.LatestPolicy.PolicyNumber)
}

func TestCommit_StorageFailureRollsBackOnlyThatRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.FailOn("InsertPolicy", errors.New("disk full"))

	result, err := f.importer.Commit(ctx, []factory.ImportRecord{
		{Identifier: "WITH-POLICY", PolicyNumber: "PL-1"},
		{Identifier: "NO-POLICY"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Added)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "WITH-POLICY", result.Failed[0].Identifier)

	orphan, err := f.mem.FindAssetByIdentifier(ctx, "WITH-POLICY")
	require.NoError(t, err)
	assert.Nil(t, orphan, "asset insert must roll back with its policy")
}

func TestCommit_CancelledContextStops(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.importer.Commit(ctx, []factory.ImportRecord{{Identifier: "X-1"}}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Added)
}

func TestParseResolutions(t *testing.T) {
	got, err := importer.ParseResolutions(map[string]string{"A": "skip", "B": "Update"})
	require.NoError(t, err)
	assert.Equal(t, map[string]importer.Resolution{"A": importer.ResolutionSkip, "B": importer.ResolutionUpdate}, got)

	_, err = importer.ParseResolutions(map[string]string{"A": "MERGE"})
	assert.ErrorIs(t, err, insurance.ErrValidation)
}
