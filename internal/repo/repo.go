package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chaseline/internal/domain"
)

// Repo is the chase item registry and its supporting stores. All chase item
// mutations go through versioned read-modify-write so concurrent writers
// detect each other.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict signals that a versioned update lost the race: the row
// changed underneath the writer and the pending change was discarded.
var ErrVersionConflict = errors.New("version conflict")

const tsLayout = time.RFC3339

func formatTime(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(tsLayout, s)
	return t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// --- clients ---

func (r Repo) InsertClient(ctx context.Context, c domain.Client) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO clients(id,name,email,phone,risk_profile,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.Email), nullable(c.Phone), nullable(c.RiskProfile), formatTime(c.CreatedAt))
	return err
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	var c domain.Client
	var email, phone, risk sql.NullString
	var created string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,phone,risk_profile,created_at FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &email, &phone, &risk, &created)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Email = email.String
	c.Phone = phone.String
	c.RiskProfile = risk.String
	c.CreatedAt = parseTime(created)
	return c, nil
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,email,phone,risk_profile,created_at FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		var email, phone, risk sql.NullString
		var created string
		if err := rows.Scan(&c.ID, &c.Name, &email, &phone, &risk, &created); err != nil {
			return nil, err
		}
		c.Email = email.String
		c.Phone = phone.String
		c.RiskProfile = risk.String
		c.CreatedAt = parseTime(created)
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- chase items ---

const itemColumns = `id,client_id,type,target_kind,provider_id,description,status,priority,attempts,risk_score,last_tone,last_channel,version,created_at,last_action_at,next_action_at,resolved_at,fail_reason`

func scanItem(scan func(...any) error) (domain.ChaseItem, error) {
	var it domain.ChaseItem
	var providerID, description, lastTone, lastChannel, failReason sql.NullString
	var created string
	var lastAction, nextAction, resolved sql.NullString
	err := scan(&it.ID, &it.ClientID, &it.Type, &it.TargetKind, &providerID, &description,
		&it.Status, &it.Priority, &it.Attempts, &it.RiskScore, &lastTone, &lastChannel,
		&it.Version, &created, &lastAction, &nextAction, &resolved, &failReason)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if providerID.Valid {
		v := providerID.String
		it.ProviderID = &v
	}
	it.Description = description.String
	it.LastTone = domain.Tone(lastTone.String)
	it.LastChannel = domain.Channel(lastChannel.String)
	it.FailReason = failReason.String
	it.CreatedAt = parseTime(created)
	it.LastActionAt = scanNullableTime(lastAction)
	it.NextActionAt = scanNullableTime(nextAction)
	it.ResolvedAt = scanNullableTime(resolved)
	return it, nil
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.ChaseItem) error {
	var providerID any
	if it.ProviderID != nil {
		providerID = *it.ProviderID
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO chase_items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ClientID, it.Type, it.TargetKind, providerID, nullable(it.Description),
		it.Status, it.Priority, it.Attempts, it.RiskScore,
		nullable(string(it.LastTone)), nullable(string(it.LastChannel)),
		it.Version, formatTime(it.CreatedAt),
		nullableTime(it.LastActionAt), nullableTime(it.NextActionAt), nullableTime(it.ResolvedAt),
		nullable(it.FailReason))
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.ChaseItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM chase_items WHERE id=?`, id)
	return scanItem(row.Scan)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.ChaseItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM chase_items WHERE id=?`, id)
	return scanItem(row.Scan)
}

// ItemFilter narrows ListItems. Zero values mean "any".
type ItemFilter struct {
	Status   domain.ChaseStatus
	Type     domain.ChaseType
	ClientID string
	DueAt    *time.Time // only items with next_action_at <= DueAt and a non-terminal status
	Limit    int
}

func (r Repo) ListItems(ctx context.Context, f ItemFilter) ([]domain.ChaseItem, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.DueAt != nil {
		clauses = append(clauses, "next_action_at IS NOT NULL", "next_action_at<=?",
			"status NOT IN ('received','completed','failed')")
		args = append(args, formatTime(*f.DueAt))
	}
	query := fmt.Sprintf(`SELECT `+itemColumns+` FROM chase_items WHERE %s ORDER BY created_at DESC, id`, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChaseItem
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// DueItems returns non-terminal items whose next action is due at or before now.
func (r Repo) DueItems(ctx context.Context, now time.Time) ([]domain.ChaseItem, error) {
	return r.ListItems(ctx, ItemFilter{DueAt: &now})
}

// UpdateItemVersioned writes the item if and only if the stored version still
// matches it.Version; on success the stored version is it.Version+1. A row
// changed by someone else yields ErrVersionConflict and no write.
func (r Repo) UpdateItemVersioned(ctx context.Context, tx *sql.Tx, it domain.ChaseItem) error {
	var providerID any
	if it.ProviderID != nil {
		providerID = *it.ProviderID
	}
	res, err := tx.ExecContext(ctx, `UPDATE chase_items SET
		client_id=?, type=?, target_kind=?, provider_id=?, description=?,
		status=?, priority=?, attempts=?, risk_score=?, last_tone=?, last_channel=?,
		version=version+1, last_action_at=?, next_action_at=?, resolved_at=?, fail_reason=?
		WHERE id=? AND version=?`,
		it.ClientID, it.Type, it.TargetKind, providerID, nullable(it.Description),
		it.Status, it.Priority, it.Attempts, it.RiskScore,
		nullable(string(it.LastTone)), nullable(string(it.LastChannel)),
		nullableTime(it.LastActionAt), nullableTime(it.NextActionAt), nullableTime(it.ResolvedAt),
		nullable(it.FailReason),
		it.ID, it.Version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// --- provider profiles ---

func scanProfile(scan func(...any) error) (domain.ProviderProfile, error) {
	var p domain.ProviderProfile
	var name sql.NullString
	var updated string
	err := scan(&p.ProviderID, &name, &p.MeanDays, &p.P90Days, &p.SampleCount, &p.OverdueCount, &updated)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Name = name.String
	p.UpdatedAt = parseTime(updated)
	return p, nil
}

func (r Repo) GetProviderProfile(ctx context.Context, providerID string) (domain.ProviderProfile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT provider_id,name,mean_days,p90_days,sample_count,overdue_count,updated_at FROM provider_profiles WHERE provider_id=?`, providerID)
	return scanProfile(row.Scan)
}

func (r Repo) ListProviderProfiles(ctx context.Context) ([]domain.ProviderProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT provider_id,name,mean_days,p90_days,sample_count,overdue_count,updated_at FROM provider_profiles ORDER BY provider_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProviderProfile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpsertProviderProfile(ctx context.Context, p domain.ProviderProfile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO provider_profiles(provider_id,name,mean_days,p90_days,sample_count,overdue_count,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(provider_id) DO UPDATE SET name=excluded.name, mean_days=excluded.mean_days, p90_days=excluded.p90_days, sample_count=excluded.sample_count, overdue_count=excluded.overdue_count, updated_at=excluded.updated_at`,
		p.ProviderID, nullable(p.Name), p.MeanDays, p.P90Days, p.SampleCount, p.OverdueCount, formatTime(p.UpdatedAt))
	return err
}

// --- leases ---

func (r Repo) GetLease(ctx context.Context, itemID string) (domain.Lease, error) {
	return r.getLease(ctx, r.DB.QueryRowContext, itemID)
}

func (r Repo) GetLeaseTx(ctx context.Context, tx *sql.Tx, itemID string) (domain.Lease, error) {
	return r.getLease(ctx, tx.QueryRowContext, itemID)
}

func (r Repo) getLease(ctx context.Context, queryRow func(context.Context, string, ...any) *sql.Row, itemID string) (domain.Lease, error) {
	var l domain.Lease
	var acquired, expires string
	err := queryRow(ctx, `SELECT item_id,owner_id,acquired_at,expires_at FROM leases WHERE item_id=?`, itemID).
		Scan(&l.ItemID, &l.OwnerID, &acquired, &expires)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.AcquiredAt = parseTime(acquired)
	l.ExpiresAt = parseTime(expires)
	return l, nil
}

func (r Repo) UpsertLease(ctx context.Context, tx *sql.Tx, lease domain.Lease) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leases(item_id,owner_id,acquired_at,expires_at) VALUES (?,?,?,?)
ON CONFLICT(item_id) DO UPDATE SET owner_id=excluded.owner_id, acquired_at=excluded.acquired_at, expires_at=excluded.expires_at`,
		lease.ItemID, lease.OwnerID, formatTime(lease.AcquiredAt), formatTime(lease.ExpiresAt))
	return err
}

func (r Repo) DeleteLease(ctx context.Context, tx *sql.Tx, itemID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM leases WHERE item_id=?`, itemID)
	return err
}

// --- activities ---

func scanActivity(scan func(...any) error) (domain.Activity, error) {
	var a domain.Activity
	var channel, tone, detail sql.NullString
	var ts string
	err := scan(&a.ID, &a.ItemID, &a.AgentType, &a.Action, &channel, &tone, &a.Outcome, &detail, &ts)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Channel = domain.Channel(channel.String)
	a.Tone = domain.Tone(tone.String)
	a.Detail = detail.String
	a.TS = parseTime(ts)
	return a, nil
}

func (r Repo) ListItemActivities(ctx context.Context, itemID string) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,item_id,agent_type,action,channel,tone,outcome,detail,ts FROM activities WHERE item_id=? ORDER BY id`, itemID)
	if err != nil {
		return nil, err
	}
	return collectActivities(rows)
}

// LatestActivities returns up to limit activities, newest first, optionally
// filtered by action.
func (r Repo) LatestActivities(ctx context.Context, limit int, action string) ([]domain.Activity, error) {
	clauses := []string{"1=1"}
	var args []any
	if action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, action)
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT id,item_id,agent_type,action,channel,tone,outcome,detail,ts FROM activities WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND ")),
		args...)
	if err != nil {
		return nil, err
	}
	return collectActivities(rows)
}

// ActivitiesAfter returns activities with IDs greater than the cursor in
// ascending order; used by the webhook dispatcher.
func (r Repo) ActivitiesAfter(ctx context.Context, limit int, cursor int64) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,item_id,agent_type,action,channel,tone,outcome,detail,ts FROM activities WHERE id>? ORDER BY id LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return collectActivities(rows)
}

// LatestActivityID returns the highest activity id, or 0 when the log is empty.
func (r Repo) LatestActivityID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM activities`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func collectActivities(rows *sql.Rows) ([]domain.Activity, error) {
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
