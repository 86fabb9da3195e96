package insurance

import "context"

// RenewalResult reports what a renewal changed.
type RenewalResult struct {
	// Archived is the policy that was latest before the renewal, nil if the
	// asset had none.
	Archived *Policy `json:"archived,omitempty"`
	Created  Policy  `json:"created"`
}

// RenewPolicy archives the asset's current policy and inserts a new ACTIVE
// version in one transaction.
//
// Input is validated before the transaction opens. Every non-archived policy
// of the asset is archived, so exactly one non-archived policy remains when
// the transaction commits. Any failure rolls the whole renewal back.
func (m *Manager) RenewPolicy(ctx context.Context, assetID string, in PolicyInput) (*RenewalResult, error) {
	if err := in.ValidateForRenewal(); err != nil {
		return nil, err
	}

	now := m.Now()
	result := &RenewalResult{}

	err := m.Store.WithTx(ctx, func(tx Tx) error {
		asset, err := tx.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if asset == nil {
			return &NotFoundError{Kind: "asset", ID: assetID}
		}

		latest, err := tx.LatestPolicy(ctx, assetID)
		if err != nil {
			return err
		}
		if _, err := tx.ArchivePolicies(ctx, assetID); err != nil {
			return err
		}
		if latest != nil {
			latest.Status = StatusArchived
			result.Archived = latest
		}

		result.Created = m.NewPolicy(assetID, in, now)
		return tx.InsertPolicy(ctx, result.Created)
	})
	if err != nil {
		return nil, persistErr("renew policy", err)
	}
	return result, nil
}
