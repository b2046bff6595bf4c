package compass

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Repository interface {
	// Profiles
	GetProfile(ctx context.Context, uid string) (*Profile, error)
	QueryDiscoverable(ctx context.Context, limit int) ([]*Profile, error)
	MutateProfile(ctx context.Context, uid string, fn func(p *Profile) error) (*Profile, error)

	// Token refill
	ListRefillCandidates(ctx context.Context, since time.Time) ([]*Profile, error)
	ApplyTokenRefills(ctx context.Context, refills []TokenRefill, at time.Time) ([]TokenRefill, error)

	// Auxiliary
	RecordLearningMetric(ctx context.Context, metric *LearningMetric) error
	LoadInterestSlots(ctx context.Context) (map[string]int, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// profileRow is the compass_profiles column layout
type profileRow struct {
	UID                string          `db:"uid"`
	Username           string          `db:"username"`
	DisplayName        string          `db:"display_name"`
	PhotoURL           string          `db:"photo_url"`
	Bio                string          `db:"bio"`
	Location           string          `db:"location"`
	DNA                DNA             `db:"dna"`
	PreferenceVector   pq.Float64Array `db:"preference_vector"`
	LastLearningUpdate sql.NullTime    `db:"last_learning_update"`
	SeenProfileIDs     SeenRegistry    `db:"seen_profile_ids"`
	ConnectionTokens   int             `db:"connection_tokens"`
	TokensRefreshedAt  sql.NullTime    `db:"tokens_refreshed_at"`
	Discoverable       bool            `db:"discoverable"`
	LastActive         time.Time       `db:"last_active"`
	Version            int64           `db:"version"`
}

const profileColumns = `uid, username, display_name, photo_url, bio, location, dna,
	preference_vector, last_learning_update, seen_profile_ids, connection_tokens,
	tokens_refreshed_at, discoverable, last_active, version`

func (row *profileRow) toProfile() *Profile {
	p := &Profile{
		UID:         row.UID,
		Username:    row.Username,
		DisplayName: row.DisplayName,
		PhotoURL:    row.PhotoURL,
		Bio:         row.Bio,
		Location:    row.Location,
		DNA:         row.DNA,
		Version:     row.Version,
		Compass: Compass{
			SeenProfileIDs: row.SeenProfileIDs,
			ConnectionTokens: ConnectionTokens{
				Count: row.ConnectionTokens,
			},
			Discoverable:        row.Discoverable,
			LastActiveTimestamp: row.LastActive,
		},
	}
	if len(row.PreferenceVector) > 0 {
		p.Compass.PreferenceVector = []float64(row.PreferenceVector)
	}
	if row.LastLearningUpdate.Valid {
		p.Compass.LastLearningUpdate = row.LastLearningUpdate.Time
	}
	if row.TokensRefreshedAt.Valid {
		p.Compass.ConnectionTokens.RefreshedAt = row.TokensRefreshedAt.Time
	}
	if p.Compass.SeenProfileIDs == nil {
		p.Compass.SeenProfileIDs = SeenRegistry{}
	}
	return p
}

func (r *postgresRepository) GetProfile(ctx context.Context, uid string) (*Profile, error) {
	var row profileRow
	query := `SELECT ` + profileColumns + ` FROM compass_profiles WHERE uid = $1`

	err := r.db.QueryRowxContext(ctx, query, uid).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", uid, err)
	}

	return row.toProfile(), nil
}

// QueryDiscoverable returns up to limit discoverable profiles in no
// particular order
func (r *postgresRepository) QueryDiscoverable(ctx context.Context, limit int) ([]*Profile, error) {
	query := `SELECT ` + profileColumns + `
		FROM compass_profiles
		WHERE discoverable = TRUE
		LIMIT $1`

	return r.selectProfiles(ctx, query, limit)
}

func (r *postgresRepository) ListRefillCandidates(ctx context.Context, since time.Time) ([]*Profile, error) {
	query := `SELECT ` + profileColumns + `
		FROM compass_profiles
		WHERE discoverable = TRUE
		  AND last_active > $1
		  AND connection_tokens < $2`

	return r.selectProfiles(ctx, query, since, MaxTokens)
}

func (r *postgresRepository) selectProfiles(ctx context.Context, query string, args ...interface{}) ([]*Profile, error) {
	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}

	profiles := make([]*Profile, 0, len(rows))
	for i := range rows {
		profiles = append(profiles, rows[i].toProfile())
	}
	return profiles, nil
}

// MutateProfile runs fn against the locked row and persists the engine-owned
// fields in the same transaction. Returning an error from fn rolls back.
func (r *postgresRepository) MutateProfile(ctx context.Context, uid string, fn func(p *Profile) error) (*Profile, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var row profileRow
	query := `SELECT ` + profileColumns + ` FROM compass_profiles WHERE uid = $1 FOR UPDATE`
	err = tx.QueryRowxContext(ctx, query, uid).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock profile %s: %w", uid, err)
	}

	profile := row.toProfile()
	if err := fn(profile); err != nil {
		return nil, err
	}

	update := `
		UPDATE compass_profiles
		SET preference_vector = $3,
			last_learning_update = $4,
			seen_profile_ids = $5,
			connection_tokens = $6,
			tokens_refreshed_at = $7,
			version = version + 1
		WHERE uid = $1 AND version = $2
	`

	var vector interface{}
	if profile.Compass.PreferenceVector != nil {
		vector = pq.Float64Array(profile.Compass.PreferenceVector)
	}

	result, err := tx.ExecContext(
		ctx, update,
		uid, row.Version, vector,
		nullTime(profile.Compass.LastLearningUpdate),
		profile.Compass.SeenProfileIDs,
		profile.Compass.ConnectionTokens.Count,
		nullTime(profile.Compass.ConnectionTokens.RefreshedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", uid, err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return nil, ErrConcurrentUpdate
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit profile %s: %w", uid, err)
	}

	profile.Version = row.Version + 1
	return profile, nil
}

// ApplyTokenRefills writes all refills in one statement. A row is only
// updated if its balance still equals Previous; the others are returned as
// conflicts.
func (r *postgresRepository) ApplyTokenRefills(ctx context.Context, refills []TokenRefill, at time.Time) ([]TokenRefill, error) {
	if len(refills) == 0 {
		return nil, nil
	}

	uids := make([]string, len(refills))
	previous := make([]int64, len(refills))
	counts := make([]int64, len(refills))
	for i, refill := range refills {
		uids[i] = refill.UID
		previous[i] = int64(refill.Previous)
		counts[i] = int64(refill.NewCount)
	}

	query := `
		UPDATE compass_profiles AS p
		SET connection_tokens = r.new_count,
			tokens_refreshed_at = $4,
			version = p.version + 1
		FROM UNNEST($1::text[], $2::int[], $3::int[]) AS r(uid, previous, new_count)
		WHERE p.uid = r.uid AND p.connection_tokens = r.previous
		RETURNING p.uid
	`

	var updated []string
	err := r.db.SelectContext(ctx, &updated, query, pq.Array(uids), pq.Array(previous), pq.Array(counts), at)
	if err != nil {
		return nil, fmt.Errorf("apply token refills: %w", err)
	}

	done := make(map[string]struct{}, len(updated))
	for _, uid := range updated {
		done[uid] = struct{}{}
	}

	var conflicts []TokenRefill
	for _, refill := range refills {
		if _, ok := done[refill.UID]; !ok {
			conflicts = append(conflicts, refill)
		}
	}
	return conflicts, nil
}

func (r *postgresRepository) RecordLearningMetric(ctx context.Context, metric *LearningMetric) error {
	query := `
		INSERT INTO compass_learning_metrics (uid, target_id, action, l1_delta, created_at)
		VALUES (:uid, :target_id, :action, :l1_delta, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, metric)
	return err
}

func (r *postgresRepository) LoadInterestSlots(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Tag  string `db:"tag"`
		Slot int    `db:"slot"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT tag, slot FROM compass_interest_slots`); err != nil {
		return nil, fmt.Errorf("load interest slots: %w", err)
	}

	slots := make(map[string]int, len(rows))
	for _, row := range rows {
		slots[row.Tag] = row.Slot
	}
	return slots, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
