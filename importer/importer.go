/*
Package importer reconciles spreadsheet rows with stored assets.

PURPOSE:
  Imports run in two phases. DryRun matches rows against stored assets by
  identifier and reports which rows would create assets and which collide
  with existing ones. The caller then picks SKIP or UPDATE per colliding
  identifier and calls Commit.

COMMIT RULES:
  - Rows with a blank identifier are skipped.
  - Unknown identifier: create the asset, plus a first policy when the row
    has a policy number or a validity date.
  - Known identifier with SKIP: nothing changes.
  - Known identifier with UPDATE (the default): merge non-empty cells into
    the asset and its latest policy, or create a policy if it has none.
  - A row that already created an asset earlier in the same batch is
    treated as known.

FAILURES:
  Every row runs in its own transaction. A failing row is rolled back,
  reported in CommitResult.Failed with its index and identifier, and the
  batch continues.
*/
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/insurance-tracker/factory"
	"github.com/warp/insurance-tracker/insurance"
	"github.com/warp/insurance-tracker/logger"
)

// Resolution is the caller's decision for a colliding identifier.
type Resolution string

const (
	ResolutionSkip   Resolution = "SKIP"
	ResolutionUpdate Resolution = "UPDATE"
)

// ParseResolution parses SKIP or UPDATE (case-insensitive).
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToUpper(strings.TrimSpace(s))); r {
	case ResolutionSkip, ResolutionUpdate:
		return r, nil
	default:
		return "", fmt.Errorf("unknown resolution %q", s)
	}
}

// ParseResolutions converts the wire map, collecting every bad value.
func ParseResolutions(raw map[string]string) (map[string]Resolution, error) {
	out := make(map[string]Resolution, len(raw))
	verr := &insurance.ValidationError{}
	for id, v := range raw {
		r, err := ParseResolution(v)
		if err != nil {
			verr.Add("resolutions."+id, err.Error())
			continue
		}
		out[strings.TrimSpace(id)] = r
	}
	return out, verr.OrNil()
}

// =============================================================================
// RESULTS
// =============================================================================

// ExistingAsset is the stored side of a conflict.
type ExistingAsset struct {
	insurance.Asset
	LatestPolicy *insurance.Policy `json:"latestPolicy"`
}

// Conflict pairs an incoming row with the asset it collides with.
type Conflict struct {
	Identifier string               `json:"identifier"`
	Existing   ExistingAsset        `json:"existing"`
	Incoming   factory.ImportRecord `json:"incoming"`
}

// DryRunResult previews a commit.
type DryRunResult struct {
	NewCount    int                    `json:"newCount"`
	UpdateCount int                    `json:"updateCount"`
	SkipCount   int                    `json:"skipCount"`
	Conflicts   []Conflict             `json:"conflicts"`
	NewRecords  []factory.ImportRecord `json:"newRecords"`
}

// RecordFailure identifies a row that could not be committed.
type RecordFailure struct {
	Index      int    `json:"index"`
	Identifier string `json:"identifier"`
	Error      string `json:"error"`
}

// CommitResult aggregates a commit. Counts are returned even when some
// rows failed.
type CommitResult struct {
	Added   int             `json:"added"`
	Updated int             `json:"updated"`
	Skipped int             `json:"skipped"`
	Failed  []RecordFailure `json:"failed"`
}

// =============================================================================
// IMPORTER
// =============================================================================

// Importer runs dry runs and commits against the manager's store.
type Importer struct {
	manager *insurance.Manager
	log     logger.Logger
}

// New creates an importer.
func New(manager *insurance.Manager, log logger.Logger) *Importer {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Importer{manager: manager, log: log}
}

// normalize trims every row and drops those without an identifier. The
// returned indexes point into the original slice.
func normalize(raw []factory.ImportRecord) ([]factory.ImportRecord, []int) {
	records := make([]factory.ImportRecord, 0, len(raw))
	indexes := make([]int, 0, len(raw))
	for i, r := range raw {
		n := r.Normalize()
		if n.Identifier == "" {
			continue
		}
		records = append(records, n)
		indexes = append(indexes, i)
	}
	return records, indexes
}

// DryRun partitions rows into conflicts and new records. It never writes.
func (im *Importer) DryRun(ctx context.Context, raw []factory.ImportRecord) (*DryRunResult, error) {
	records, _ := normalize(raw)

	identifiers := make([]string, len(records))
	for i, r := range records {
		identifiers[i] = r.Identifier
	}

	store := im.manager.Store
	assets, err := store.FindAssetsByIdentifiers(ctx, identifiers)
	if err != nil {
		return nil, insurance.WrapPersistence("find assets", err)
	}

	assetIDs := make([]string, len(assets))
	for i, a := range assets {
		assetIDs[i] = a.ID
	}
	latest, err := store.LatestPolicies(ctx, assetIDs)
	if err != nil {
		return nil, insurance.WrapPersistence("latest policies", err)
	}

	existing := make(map[string]*ExistingAsset, len(assets))
	for _, a := range assets {
		match := &ExistingAsset{Asset: a}
		if p, ok := latest[a.ID]; ok {
			match.LatestPolicy = &p
		}
		existing[a.Identifier] = match
	}

	result := &DryRunResult{
		SkipCount:  len(raw) - len(records),
		Conflicts:  []Conflict{},
		NewRecords: []factory.ImportRecord{},
	}
	for _, rec := range records {
		if match, ok := existing[rec.Identifier]; ok {
			result.Conflicts = append(result.Conflicts, Conflict{
				Identifier: rec.Identifier,
				Existing:   *match,
				Incoming:   rec,
			})
			continue
		}
		result.NewRecords = append(result.NewRecords, rec)
	}
	result.NewCount = len(result.NewRecords)
	result.UpdateCount = len(result.Conflicts)
	return result, nil
}

type outcome int

const (
	outcomeAdded outcome = iota
	outcomeUpdated
	outcomeSkipped
)

// Commit applies rows using the given resolutions. Identifiers missing
// from resolutions default to UPDATE. Only a storage failure that is not
// tied to a row (a cancelled context) aborts the batch.
func (im *Importer) Commit(ctx context.Context, raw []factory.ImportRecord, resolutions map[string]Resolution) (*CommitResult, error) {
	records, indexes := normalize(raw)
	result := &CommitResult{
		Skipped: len(raw) - len(records),
		Failed:  []RecordFailure{},
	}

	known := make(map[string]string)
	today := insurance.DateOf(im.manager.Now())

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		out, err := im.commitRecord(ctx, rec, resolutions[rec.Identifier], known, today)
		if err != nil {
			result.Failed = append(result.Failed, RecordFailure{
				Index:      indexes[i],
				Identifier: rec.Identifier,
				Error:      err.Error(),
			})
			im.log.WithError(err).Warn("import record failed", map[string]interface{}{
				"identifier": rec.Identifier,
				"index":      indexes[i],
			})
			continue
		}
		switch out {
		case outcomeAdded:
			result.Added++
		case outcomeUpdated:
			result.Updated++
		case outcomeSkipped:
			result.Skipped++
		}
	}

	im.log.Info("import committed", map[string]interface{}{
		"added":   result.Added,
		"updated": result.Updated,
		"skipped": result.Skipped,
		"failed":  len(result.Failed),
	})
	return result, nil
}

func (im *Importer) commitRecord(ctx context.Context, rec factory.ImportRecord, resolution Resolution, known map[string]string, today insurance.Date) (outcome, error) {
	assetID, ok := known[rec.Identifier]
	if !ok {
		a, err := im.manager.Store.FindAssetByIdentifier(ctx, rec.Identifier)
		if err != nil {
			return 0, insurance.WrapPersistence("find asset", err)
		}
		if a != nil {
			assetID, ok = a.ID, true
		}
	}

	if !ok {
		created, err := im.create(ctx, rec, today)
		if err != nil {
			return 0, err
		}
		known[rec.Identifier] = created
		return outcomeAdded, nil
	}

	known[rec.Identifier] = assetID
	if resolution == ResolutionSkip {
		return outcomeSkipped, nil
	}
	if err := im.merge(ctx, assetID, rec, today); err != nil {
		return 0, err
	}
	return outcomeUpdated, nil
}

func (im *Importer) create(ctx context.Context, rec factory.ImportRecord, today insurance.Date) (string, error) {
	in, err := rec.AssetInput(today)
	if err != nil {
		return "", err
	}

	m := im.manager
	now := m.Now()
	asset := m.NewAsset(in, now)
	err = m.Store.WithTx(ctx, func(tx insurance.Tx) error {
		if err := tx.CreateAsset(ctx, asset); err != nil {
			if errors.Is(err, insurance.ErrDuplicateIdentifier) {
				return &insurance.ConflictError{Identifier: asset.Identifier}
			}
			return err
		}
		if in.Policy != nil {
			return tx.InsertPolicy(ctx, m.NewPolicy(asset.ID, *in.Policy, now))
		}
		return nil
	})
	if err != nil {
		return "", insurance.WrapPersistence("import create", err)
	}
	return asset.ID, nil
}

func (im *Importer) merge(ctx context.Context, assetID string, rec factory.ImportRecord, today insurance.Date) error {
	patch, err := rec.Patch()
	if err != nil {
		return err
	}

	m := im.manager
	now := m.Now()
	err = m.Store.WithTx(ctx, func(tx insurance.Tx) error {
		asset, err := tx.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if asset == nil {
			return &insurance.NotFoundError{Kind: "asset", ID: assetID}
		}
		patch.ApplyToAsset(asset)
		asset.UpdatedAt = now
		if err := tx.UpdateAsset(ctx, *asset); err != nil {
			return err
		}

		latest, err := tx.LatestPolicy(ctx, assetID)
		if err != nil {
			return err
		}
		if latest != nil {
			if !patch.TouchesPolicy() {
				return nil
			}
			patch.ApplyToPolicy(latest)
			if err := latest.ValidateTerm(); err != nil {
				return err
			}
			latest.UpdatedAt = now
			return tx.UpdatePolicy(ctx, *latest)
		}
		if !rec.HasPolicyData() {
			return nil
		}
		in, err := rec.PolicyInput(today)
		if err != nil {
			return err
		}
		return tx.InsertPolicy(ctx, m.NewPolicy(assetID, in, now))
	})
	return insurance.WrapPersistence("import merge", err)
}
