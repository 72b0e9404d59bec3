package relica

import (
	"context"
	"database/sql"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/coregx/relica"
)

// PreferenceRepository implements courier.PreferenceRepository using Relica.
type PreferenceRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewPreferenceRepository creates a new PreferenceRepository with default table prefix.
func NewPreferenceRepository(sqlDB *sql.DB, driverName string) *PreferenceRepository {
	return &PreferenceRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewPreferenceRepositoryWithPrefix creates a new PreferenceRepository with custom table prefix.
func NewPreferenceRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *PreferenceRepository {
	return &PreferenceRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *PreferenceRepository) tableName() string {
	return r.tablePrefix + "preference"
}

// FindByUserID retrieves the preference row of a user.
func (r *PreferenceRepository) FindByUserID(ctx context.Context, userID string) (model.Preference, error) {
	var p model.Preference
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("user_id = ?", userID).One(&p)
	if err != nil {
		return p, queryError("failed to find preference", err)
	}
	return p, nil
}

// FindByUserIDs retrieves the preference rows of many users, keyed by user id.
// Users without a row are absent from the map.
func (r *PreferenceRepository) FindByUserIDs(ctx context.Context, userIDs []string) (map[string]model.Preference, error) {
	out := make(map[string]model.Preference, len(userIDs))

	for start := 0; start < len(userIDs); start += inBatchSize {
		end := min(start+inBatchSize, len(userIDs))
		batch := userIDs[start:end]

		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		var prefs []model.Preference
		err := r.db.WithContext(ctx).Select("*").
			From(r.tableName()).
			Where("user_id IN ("+placeholders(len(batch))+")", args...).
			All(&prefs)
		if err != nil {
			return nil, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to find preferences", err)
		}
		for _, p := range prefs {
			out[p.UserID] = p
		}
	}
	return out, nil
}

// Insert creates a preference row. A second row for the same user returns
// courier.ErrDuplicateKey.
func (r *PreferenceRepository) Insert(ctx context.Context, p model.Preference) (model.Preference, error) {
	err := r.db.WithContext(ctx).Model(&p).Table(r.tableName()).Insert()
	if err != nil {
		return p, insertError("failed to insert preference", err)
	}
	return p, nil
}

// Save updates an existing preference row.
func (r *PreferenceRepository) Save(ctx context.Context, p model.Preference) (model.Preference, error) {
	p.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&p).Table(r.tableName()).Update()
	if err != nil {
		return p, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to update preference", err)
	}
	return p, nil
}
