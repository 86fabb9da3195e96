/*
Package sqlite provides a SQLite-backed implementation of insurance.Store.

PURPOSE:
  Persists assets, policy versions, attachment metadata, notification
  settings, recipients and the notification log. In production the same
  schema works on PostgreSQL with minor dialect changes.

KEY TABLES:
  assets:                  Insurable entities, identifier UNIQUE
  policies:                Policy versions, FK assets ON DELETE CASCADE
  policy_attachments:      Files owned by a policy, FK policies ON DELETE CASCADE
  notification_settings:   Single row (id = 1) of lead thresholds
  notification_recipients: Emails, global when asset_id IS NULL
  notification_log:        PRIMARY KEY (policy_id, stage), insert-only

APPEND-ONLY NOTIFICATION LOG:
  - No UPDATE or DELETE statements on notification_log
  - No FK to policies, so "already sent" survives asset deletion
  - RecordNotification uses INSERT OR IGNORE; the primary key is the
    concurrency guard against two sweeps sending the same stage

ENCODING:
  Dates are YYYY-MM-DD text. Timestamps are fixed-width UTC text so they sort
  lexically. Money is decimal text. Status is its wire name.

CONCURRENCY:
  A sync.RWMutex serializes writers. The pool is capped at one connection so
  ":memory:" databases are shared by every query. Queries run through a
  querier so the transactional view never re-enters the mutex.

USAGE:
  store, err := sqlite.New("./data/insurance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  manager := insurance.NewManager(store)

MIGRATION:
  Schema is auto-migrated on New(). Open() wraps an existing *sql.DB and
  leaves migration to the caller.

SEE ALSO:
  - insurance/store.go: Interface definitions
  - insurance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/insurance-tracker/insurance"
)

// timestampLayout is fixed width so text comparison matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// maxInParams bounds the placeholders of one IN (...) clause.
const maxInParams = 500

// Store implements insurance.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ insurance.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := Open(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Open wraps an already opened database without migrating it.
func Open(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'OTHER',
		identifier TEXT NOT NULL UNIQUE,
		responsible_person TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
		policy_number TEXT NOT NULL DEFAULT '',
		insurer TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		premium_amount TEXT NOT NULL DEFAULT '0',
		sum_insured TEXT,
		payment_frequency TEXT NOT NULL DEFAULT 'YEARLY',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		notification_override_days INTEGER,
		leasing_ref TEXT NOT NULL DEFAULT '',
		insured TEXT NOT NULL DEFAULT '',
		comments TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Latest policy lookup and history (hot path)
	CREATE INDEX IF NOT EXISTS idx_policies_asset_end
		ON policies(asset_id, end_date DESC, created_at DESC);
	-- Scheduler sweep
	CREATE INDEX IF NOT EXISTS idx_policies_status
		ON policies(status);

	CREATE TABLE IF NOT EXISTS policy_attachments (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		filename TEXT NOT NULL,
		original_name TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		path TEXT NOT NULL DEFAULT '',
		uploaded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attachments_policy
		ON policy_attachments(policy_id);

	CREATE TABLE IF NOT EXISTS notification_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		default_lead_days INTEGER NOT NULL,
		follow_up_lead_days INTEGER NOT NULL,
		deadline_lead_days INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notification_recipients (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		asset_id TEXT REFERENCES assets(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recipients_asset
		ON notification_recipients(asset_id);

	CREATE TABLE IF NOT EXISTS notification_log (
		policy_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		sent_at TEXT NOT NULL,
		PRIMARY KEY (policy_id, stage)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// QUERIER - shared by the store and its transactional view
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements insurance.Tx on top of a *sql.DB or *sql.Tx. It never
// locks; callers hold Store.mu.
type queries struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx insurance.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func (s *Store) read() queries { return queries{q: s.db} }

// =============================================================================
// ASSET STORE
// =============================================================================

const assetColumns = `id, name, type, identifier, responsible_person, notes, created_at, updated_at`

func (s *Store) CreateAsset(ctx context.Context, a insurance.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateAsset(ctx, a)
}

func (s *Store) UpdateAsset(ctx context.Context, a insurance.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateAsset(ctx, a)
}

func (s *Store) GetAsset(ctx context.Context, id string) (*insurance.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAsset(ctx, id)
}

func (s *Store) FindAssetByIdentifier(ctx context.Context, identifier string) (*insurance.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindAssetByIdentifier(ctx, identifier)
}

func (s *Store) FindAssetsByIdentifiers(ctx context.Context, identifiers []string) ([]insurance.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindAssetsByIdentifiers(ctx, identifiers)
}

func (s *Store) ListAssets(ctx context.Context) ([]insurance.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListAssets(ctx)
}

// DeleteAsset removes the asset. Policies, attachments and asset-scoped
// recipients go with it through ON DELETE CASCADE.
func (s *Store) DeleteAsset(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeleteAsset(ctx, id)
}

func (q queries) CreateAsset(ctx context.Context, a insurance.Asset) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, string(a.Type), a.Identifier, a.ResponsiblePerson, a.Notes,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return insurance.ErrDuplicateIdentifier
	}
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

func (q queries) UpdateAsset(ctx context.Context, a insurance.Asset) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE assets
		SET name = ?, type = ?, identifier = ?, responsible_person = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, string(a.Type), a.Identifier, a.ResponsiblePerson, a.Notes, formatTime(a.UpdatedAt), a.ID,
	)
	if isUniqueConstraintError(err) {
		return insurance.ErrDuplicateIdentifier
	}
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &insurance.NotFoundError{Kind: "asset", ID: a.ID}
	}
	return nil
}

func (q queries) GetAsset(ctx context.Context, id string) (*insurance.Asset, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	return scanOptionalAsset(row)
}

func (q queries) FindAssetByIdentifier(ctx context.Context, identifier string) (*insurance.Asset, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE identifier = ?`, identifier)
	return scanOptionalAsset(row)
}

// FindAssetsByIdentifiers issues one query per maxInParams identifiers.
func (q queries) FindAssetsByIdentifiers(ctx context.Context, identifiers []string) ([]insurance.Asset, error) {
	var out []insurance.Asset
	for start := 0; start < len(identifiers); start += maxInParams {
		end := min(start+maxInParams, len(identifiers))
		chunk := identifiers[start:end]

		assets, err := q.queryAssets(ctx,
			`SELECT `+assetColumns+` FROM assets WHERE identifier IN (`+placeholders(len(chunk))+`)
			 ORDER BY created_at DESC, id`,
			stringArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		out = append(out, assets...)
	}
	return out, nil
}

func (q queries) ListAssets(ctx context.Context) ([]insurance.Asset, error) {
	return q.queryAssets(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY created_at DESC, id`)
}

func (q queries) DeleteAsset(ctx context.Context, id string) (bool, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete asset: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q queries) queryAssets(ctx context.Context, query string, args ...any) ([]insurance.Asset, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []insurance.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func scanOptionalAsset(row *sql.Row) (*insurance.Asset, error) {
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAsset(sc scanner) (insurance.Asset, error) {
	var (
		a                    insurance.Asset
		assetType            string
		createdAt, updatedAt string
	)
	if err := sc.Scan(&a.ID, &a.Name, &assetType, &a.Identifier, &a.ResponsiblePerson, &a.Notes, &createdAt, &updatedAt); err != nil {
		return a, err
	}
	a.Type = insurance.AssetType(assetType)

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return a, err
	}
	return a, nil
}

// =============================================================================
// POLICY STORE
// =============================================================================

const policyColumns = `id, asset_id, policy_number, insurer, start_date, end_date, premium_amount,
	sum_insured, payment_frequency, status, notification_override_days, leasing_ref, insured,
	comments, created_at, updated_at`

func (s *Store) InsertPolicy(ctx context.Context, p insurance.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertPolicy(ctx, p)
}

func (s *Store) UpdatePolicy(ctx context.Context, p insurance.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdatePolicy(ctx, p)
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetPolicy(ctx, id)
}

func (s *Store) LatestPolicy(ctx context.Context, assetID string) (*insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().LatestPolicy(ctx, assetID)
}

func (s *Store) LatestPolicies(ctx context.Context, assetIDs []string) (map[string]insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().LatestPolicies(ctx, assetIDs)
}

func (s *Store) PolicyHistory(ctx context.Context, assetID string) ([]insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().PolicyHistory(ctx, assetID)
}

func (s *Store) ArchivePolicies(ctx context.Context, assetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().ArchivePolicies(ctx, assetID)
}

func (s *Store) ListPoliciesByStatus(ctx context.Context, statuses ...insurance.Status) ([]insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListPoliciesByStatus(ctx, statuses...)
}

func (s *Store) ListPolicies(ctx context.Context) ([]insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListPolicies(ctx)
}

func (s *Store) AddAttachments(ctx context.Context, policyID string, files []insurance.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().AddAttachments(ctx, policyID, files)
}

func (q queries) InsertPolicy(ctx context.Context, p insurance.Policy) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO policies (`+policyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AssetID, p.PolicyNumber, p.Insurer, p.StartDate.String(), p.EndDate.String(),
		p.PremiumAmount, p.SumInsured, string(p.PaymentFrequency), p.Status.String(),
		nullInt(p.NotificationOverrideDays), p.LeasingRef, p.Insured, p.Comments,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert policy: %w", err)
	}
	return q.AddAttachments(ctx, p.ID, p.Files)
}

func (q queries) UpdatePolicy(ctx context.Context, p insurance.Policy) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE policies
		SET policy_number = ?, insurer = ?, start_date = ?, end_date = ?, premium_amount = ?,
		    sum_insured = ?, payment_frequency = ?, status = ?, notification_override_days = ?,
		    leasing_ref = ?, insured = ?, comments = ?, updated_at = ?
		WHERE id = ?`,
		p.PolicyNumber, p.Insurer, p.StartDate.String(), p.EndDate.String(), p.PremiumAmount,
		p.SumInsured, string(p.PaymentFrequency), p.Status.String(), nullInt(p.NotificationOverrideDays),
		p.LeasingRef, p.Insured, p.Comments, formatTime(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &insurance.NotFoundError{Kind: "policy", ID: p.ID}
	}
	return nil
}

func (q queries) GetPolicy(ctx context.Context, id string) (*insurance.Policy, error) {
	policies, err := q.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = ?`, id)
	if err != nil || len(policies) == 0 {
		return nil, err
	}
	return &policies[0], nil
}

func (q queries) LatestPolicy(ctx context.Context, assetID string) (*insurance.Policy, error) {
	policies, err := q.queryPolicies(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE asset_id = ?
		ORDER BY end_date DESC, created_at DESC, id
		LIMIT 1`, assetID)
	if err != nil || len(policies) == 0 {
		return nil, err
	}
	return &policies[0], nil
}

// LatestPolicies ranks each asset's policies with the same ordering as
// LatestPolicy and keeps the first row per asset.
func (q queries) LatestPolicies(ctx context.Context, assetIDs []string) (map[string]insurance.Policy, error) {
	out := make(map[string]insurance.Policy, len(assetIDs))
	for start := 0; start < len(assetIDs); start += maxInParams {
		chunk := assetIDs[start:min(start+maxInParams, len(assetIDs))]
		policies, err := q.queryPolicies(ctx, `
			SELECT `+policyColumns+` FROM (
				SELECT `+policyColumns+`, ROW_NUMBER() OVER (
					PARTITION BY asset_id ORDER BY end_date DESC, created_at DESC, id
				) AS rn
				FROM policies
				WHERE asset_id IN (`+placeholders(len(chunk))+`)
			)
			WHERE rn = 1`, stringArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		for _, p := range policies {
			out[p.AssetID] = p
		}
	}
	return out, nil
}

func (q queries) PolicyHistory(ctx context.Context, assetID string) ([]insurance.Policy, error) {
	return q.queryPolicies(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE asset_id = ?
		ORDER BY end_date DESC, created_at DESC, id`, assetID)
}

func (q queries) ArchivePolicies(ctx context.Context, assetID string) (int, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE policies SET status = ?
		WHERE asset_id = ? AND status <> ?`,
		insurance.StatusArchived.String(), assetID, insurance.StatusArchived.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to archive policies: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q queries) ListPoliciesByStatus(ctx context.Context, statuses ...insurance.Status) ([]insurance.Policy, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st.String()
	}
	return q.queryPolicies(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE status IN (`+placeholders(len(statuses))+`)
		ORDER BY end_date DESC, created_at DESC, id`, args...)
}

func (q queries) ListPolicies(ctx context.Context) ([]insurance.Policy, error) {
	return q.queryPolicies(ctx, `
		SELECT `+policyColumns+` FROM policies
		ORDER BY end_date DESC, created_at DESC, id`)
}

func (q queries) AddAttachments(ctx context.Context, policyID string, files []insurance.Attachment) error {
	for _, f := range files {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO policy_attachments
			(id, policy_id, filename, original_name, mime_type, size, path, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, policyID, f.Filename, f.OriginalName, f.MimeType, f.Size, f.Path, formatTime(f.UploadedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}
	return nil
}

// queryPolicies scans the policy rows, closes them, then loads attachments.
// With a single pooled connection the first result set must be closed
// before the second query runs.
func (q queries) queryPolicies(ctx context.Context, query string, args ...any) ([]insurance.Policy, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}

	var policies []insurance.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(policies) == 0 {
		return policies, nil
	}
	if err := q.attachFiles(ctx, policies); err != nil {
		return nil, err
	}
	return policies, nil
}

func (q queries) attachFiles(ctx context.Context, policies []insurance.Policy) error {
	index := make(map[string]int, len(policies))
	ids := make([]string, len(policies))
	for i, p := range policies {
		index[p.ID] = i
		ids[i] = p.ID
	}

	for start := 0; start < len(ids); start += maxInParams {
		end := min(start+maxInParams, len(ids))
		chunk := ids[start:end]

		rows, err := q.q.QueryContext(ctx, `
			SELECT id, policy_id, filename, original_name, mime_type, size, path, uploaded_at
			FROM policy_attachments
			WHERE policy_id IN (`+placeholders(len(chunk))+`)
			ORDER BY uploaded_at, id`, stringArgs(chunk)...)
		if err != nil {
			return fmt.Errorf("failed to query attachments: %w", err)
		}
		for rows.Next() {
			var (
				f          insurance.Attachment
				uploadedAt string
			)
			if err := rows.Scan(&f.ID, &f.PolicyID, &f.Filename, &f.OriginalName, &f.MimeType, &f.Size, &f.Path, &uploadedAt); err != nil {
				rows.Close()
				return err
			}
			if f.UploadedAt, err = parseTime(uploadedAt); err != nil {
				rows.Close()
				return err
			}
			i := index[f.PolicyID]
			policies[i].Files = append(policies[i].Files, f)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func scanPolicy(sc scanner) (insurance.Policy, error) {
	var (
		p                    insurance.Policy
		startDate, endDate   string
		frequency, status    string
		overrideDays         sql.NullInt64
		createdAt, updatedAt string
		premium              decimal.Decimal
		sumInsured           decimal.NullDecimal
	)
	err := sc.Scan(&p.ID, &p.AssetID, &p.PolicyNumber, &p.Insurer, &startDate, &endDate, &premium,
		&sumInsured, &frequency, &status, &overrideDays, &p.LeasingRef, &p.Insured,
		&p.Comments, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	p.PremiumAmount = premium
	p.SumInsured = sumInsured
	p.PaymentFrequency = insurance.PaymentFrequency(frequency)

	if p.StartDate, err = parseDate(startDate); err != nil {
		return p, err
	}
	if p.EndDate, err = parseDate(endDate); err != nil {
		return p, err
	}
	if p.Status, err = insurance.ParseStatus(status); err != nil {
		return p, err
	}
	if overrideDays.Valid {
		days := int(overrideDays.Int64)
		p.NotificationOverrideDays = &days
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, err
	}
	return p, nil
}

// =============================================================================
// NOTIFICATION STORE
// =============================================================================

// GetSettings returns the settings row, or nil when it was never saved.
func (s *Store) GetSettings(ctx context.Context) (*insurance.NotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		settings  insurance.NotificationSettings
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT default_lead_days, follow_up_lead_days, deadline_lead_days, updated_at
		FROM notification_settings WHERE id = 1`,
	).Scan(&settings.DefaultLeadDays, &settings.FollowUpLeadDays, &settings.DeadlineLeadDays, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if settings.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSettings upserts the settings row.
func (s *Store) SaveSettings(ctx context.Context, settings insurance.NotificationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_settings (id, default_lead_days, follow_up_lead_days, deadline_lead_days, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			default_lead_days = excluded.default_lead_days,
			follow_up_lead_days = excluded.follow_up_lead_days,
			deadline_lead_days = excluded.deadline_lead_days,
			updated_at = excluded.updated_at`,
		settings.DefaultLeadDays, settings.FollowUpLeadDays, settings.DeadlineLeadDays, formatTime(settings.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// ListRecipients returns recipients of assetID, or global ones when empty.
func (s *Store) ListRecipients(ctx context.Context, assetID string) ([]insurance.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, email, asset_id, created_at FROM notification_recipients WHERE asset_id = ? ORDER BY created_at, id`
	args := []any{assetID}
	if assetID == "" {
		query = `SELECT id, email, asset_id, created_at FROM notification_recipients WHERE asset_id IS NULL ORDER BY created_at, id`
		args = nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	var out []insurance.Recipient
	for rows.Next() {
		var (
			r         insurance.Recipient
			asset     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Email, &asset, &createdAt); err != nil {
			return nil, err
		}
		r.AssetID = asset.String
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AddRecipient(ctx context.Context, r insurance.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_recipients (id, email, asset_id, created_at)
		VALUES (?, ?, ?, ?)`,
		r.ID, r.Email, nullString(r.AssetID), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert recipient: %w", err)
	}
	return nil
}

func (s *Store) DeleteRecipient(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_recipients WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete recipient: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) HasNotification(ctx context.Context, policyID string, stage insurance.Stage) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_log WHERE policy_id = ? AND stage = ?`,
		policyID, string(stage),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check notification log: %w", err)
	}
	return count > 0, nil
}

// RecordNotification inserts the log row unless (policy_id, stage) exists.
func (s *Store) RecordNotification(ctx context.Context, entry insurance.NotificationLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notification_log (policy_id, stage, sent_at)
		VALUES (?, ?, ?)`,
		entry.PolicyID, string(entry.Stage), formatTime(entry.SentAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record notification: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) ListNotifications(ctx context.Context, policyID string) ([]insurance.NotificationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_id, stage, sent_at FROM notification_log
		WHERE policy_id = ? ORDER BY sent_at, stage`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification log: %w", err)
	}
	defer rows.Close()

	var out []insurance.NotificationLog
	for rows.Next() {
		var (
			entry  insurance.NotificationLog
			stage  string
			sentAt string
		)
		if err := rows.Scan(&entry.PolicyID, &stage, &sentAt); err != nil {
			return nil, err
		}
		entry.Stage = insurance.Stage(stage)
		if entry.SentAt, err = parseTime(sentAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseDate(s string) (insurance.Date, error) {
	if s == "" {
		return insurance.Date{}, nil
	}
	return insurance.ParseDate(s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
