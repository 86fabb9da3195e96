/*
store.go - Persistence interfaces for assets, policies and notifications

PURPOSE:
  Defines the boundary between the domain logic and the database.
  Implementations: store/sqlite (production), insurance/store (in-memory).

LOOKUP CONTRACT:
  Single-record getters return (nil, nil) when the record does not exist.
  Callers turn that into a NotFoundError where it matters.

TRANSACTIONS:
  WithTx runs fn against a Tx view of the store. If fn returns an error the
  whole unit is rolled back; otherwise it is committed. Renewal, asset
  creation with its first policy, and each import record use WithTx.

NOTIFICATION LOG:
  Append-only. RecordNotification is insert-if-absent on (policyID, stage)
  and reports whether a row was inserted. There is no update or delete.

UNIQUENESS:
  Asset.Identifier is unique; violations surface as ErrDuplicateIdentifier.
*/
package insurance

import "context"

// AssetStore persists assets.
type AssetStore interface {
	CreateAsset(ctx context.Context, a Asset) error
	UpdateAsset(ctx context.Context, a Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	FindAssetByIdentifier(ctx context.Context, identifier string) (*Asset, error)

	// FindAssetsByIdentifiers fetches every asset whose identifier is in the
	// given set with a single query.
	FindAssetsByIdentifiers(ctx context.Context, identifiers []string) ([]Asset, error)
	ListAssets(ctx context.Context) ([]Asset, error)

	// DeleteAsset removes the asset and, by cascade, its policies and
	// attachments. Reports whether the asset existed.
	DeleteAsset(ctx context.Context, id string) (bool, error)
}

// PolicyStore persists policies and their attachments.
type PolicyStore interface {
	// InsertPolicy stores a new policy row together with p.Files.
	InsertPolicy(ctx context.Context, p Policy) error

	// UpdatePolicy overwrites the policy's own columns. Files are untouched.
	UpdatePolicy(ctx context.Context, p Policy) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)

	// LatestPolicy returns the asset's policy with the highest end date,
	// archived or not.
	LatestPolicy(ctx context.Context, assetID string) (*Policy, error)

	// LatestPolicies is LatestPolicy for many assets at once, keyed by asset
	// id. Assets without a policy are absent from the map.
	LatestPolicies(ctx context.Context, assetIDs []string) (map[string]Policy, error)

	// PolicyHistory returns every policy of the asset, end date descending.
	PolicyHistory(ctx context.Context, assetID string) ([]Policy, error)

	// ArchivePolicies marks every non-archived policy of the asset ARCHIVED
	// and returns how many rows changed.
	ArchivePolicies(ctx context.Context, assetID string) (int, error)

	ListPoliciesByStatus(ctx context.Context, statuses ...Status) ([]Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)
	AddAttachments(ctx context.Context, policyID string, files []Attachment) error
}

// NotificationStore persists settings, recipients and the notification log.
type NotificationStore interface {
	GetSettings(ctx context.Context) (*NotificationSettings, error)
	SaveSettings(ctx context.Context, s NotificationSettings) error

	// ListRecipients returns recipients scoped to assetID; an empty assetID
	// returns the global list.
	ListRecipients(ctx context.Context, assetID string) ([]Recipient, error)
	AddRecipient(ctx context.Context, r Recipient) error
	DeleteRecipient(ctx context.Context, id string) (bool, error)

	HasNotification(ctx context.Context, policyID string, stage Stage) (bool, error)

	// RecordNotification inserts the log row unless one already exists for
	// (PolicyID, Stage). Returns true when a row was inserted.
	RecordNotification(ctx context.Context, entry NotificationLog) (bool, error)
	ListNotifications(ctx context.Context, policyID string) ([]NotificationLog, error)
}

// Tx is the transactional view handed to WithTx callbacks.
type Tx interface {
	AssetStore
	PolicyStore
}

// Store is the full persistence surface.
type Store interface {
	Tx
	NotificationStore

	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
