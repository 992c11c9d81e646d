package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"packlink/internal/ports"
	"packlink/internal/types"
)

// DefaultStateHistoryLimit caps stored plans and lock snapshots; the oldest
// rows are dropped first.
const DefaultStateHistoryLimit = 250

type planRow struct {
	ID        string    `gorm:"primaryKey"`
	ModpackID string    `gorm:"index"`
	CreatedAt time.Time `gorm:"index"`
	Payload   []byte
}

func (planRow) TableName() string { return "plans" }

type lockSnapshotRow struct {
	ID         string    `gorm:"primaryKey"`
	InstanceID string    `gorm:"index"`
	CreatedAt  time.Time `gorm:"index"`
	Payload    []byte
}

func (lockSnapshotRow) TableName() string { return "lock_snapshots" }

type linkRow struct {
	InstanceID string `gorm:"primaryKey"`
	UpdatedAt  time.Time
	Payload    []byte
}

func (linkRow) TableName() string { return "instance_links" }

type sessionRow struct {
	InstanceID string `gorm:"primaryKey"`
	GroupID    string `gorm:"index"`
	UpdatedAt  time.Time
	Payload    []byte
}

func (sessionRow) TableName() string { return "friend_sessions" }

// SQLiteStateStore persists planner and friend-link state in a single
// sqlite database.
type SQLiteStateStore struct {
	db    *gorm.DB
	Limit int
}

// gormLogWriter forwards gorm's log lines to zerolog.
type gormLogWriter struct {
	logger zerolog.Logger
}

func (w gormLogWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn().Msgf(format, args...)
}

func NewSQLiteStateStore(path string) (*SQLiteStateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create state directory").
			WithCause(err)
	}
	gormLog := gormLogger.New(
		gormLogWriter{logger: log.Logger.With().Str("component", "state_store").Logger()},
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to open state database").
			WithCause(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to open state database").
			WithCause(err)
	}
	// sqlite serializes writers; one connection avoids "database is locked".
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&planRow{}, &lockSnapshotRow{}, &linkRow{}, &sessionRow{}); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to migrate state database").
			WithCause(err)
	}
	return &SQLiteStateStore{db: db, Limit: DefaultStateHistoryLimit}, nil
}

func (s *SQLiteStateStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStateStore) SavePlan(ctx context.Context, plan types.ResolutionPlan) error {
	payload, err := encodePayload(plan)
	if err != nil {
		return err
	}
	row := planRow{ID: plan.ID, ModpackID: plan.ModpackID, CreatedAt: plan.CreatedAt.UTC(), Payload: payload}
	if err := s.upsert(ctx, &row); err != nil {
		return err
	}
	return s.trim(ctx, &planRow{})
}

func (s *SQLiteStateStore) LoadPlan(ctx context.Context, id string) (types.ResolutionPlan, error) {
	var row planRow
	if err := s.first(ctx, &row, "id = ?", id); err != nil {
		return types.ResolutionPlan{}, notFoundOr(err, "plan not found")
	}
	var plan types.ResolutionPlan
	return plan, decodePayload(row.Payload, &plan)
}

func (s *SQLiteStateStore) SaveLockSnapshot(ctx context.Context, snapshot types.LockSnapshot) error {
	payload, err := encodePayload(snapshot)
	if err != nil {
		return err
	}
	row := lockSnapshotRow{ID: snapshot.ID, InstanceID: snapshot.InstanceID, CreatedAt: snapshot.CreatedAt.UTC(), Payload: payload}
	if err := s.upsert(ctx, &row); err != nil {
		return err
	}
	return s.trim(ctx, &lockSnapshotRow{})
}

func (s *SQLiteStateStore) LoadLockSnapshot(ctx context.Context, id string) (types.LockSnapshot, error) {
	var row lockSnapshotRow
	if err := s.first(ctx, &row, "id = ?", id); err != nil {
		return types.LockSnapshot{}, notFoundOr(err, "lock snapshot not found")
	}
	var snapshot types.LockSnapshot
	return snapshot, decodePayload(row.Payload, &snapshot)
}

// ListLockSnapshots returns the lock snapshots of an instance, newest first.
func (s *SQLiteStateStore) ListLockSnapshots(ctx context.Context, instanceID string) ([]types.LockSnapshot, error) {
	var rows []lockSnapshotRow
	err := s.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("created_at DESC").Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to list lock snapshots").
			WithCause(err)
	}
	out := make([]types.LockSnapshot, 0, len(rows))
	for _, row := range rows {
		var snapshot types.LockSnapshot
		if err := decodePayload(row.Payload, &snapshot); err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	return out, nil
}

func (s *SQLiteStateStore) DeleteLockSnapshot(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&lockSnapshotRow{}).Error
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to delete lock snapshot").
			WithCause(err)
	}
	return nil
}

func (s *SQLiteStateStore) SaveLink(ctx context.Context, link types.InstanceLinkState) error {
	payload, err := encodePayload(link)
	if err != nil {
		return err
	}
	return s.upsert(ctx, &linkRow{InstanceID: link.InstanceID, Payload: payload})
}

func (s *SQLiteStateStore) LoadLink(ctx context.Context, instanceID string) (types.InstanceLinkState, bool, error) {
	var row linkRow
	if err := s.first(ctx, &row, "instance_id = ?", instanceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.InstanceLinkState{}, false, nil
		}
		return types.InstanceLinkState{}, false, notFoundOr(err, "link not found")
	}
	var link types.InstanceLinkState
	if err := decodePayload(row.Payload, &link); err != nil {
		return types.InstanceLinkState{}, false, err
	}
	return link, true, nil
}

func (s *SQLiteStateStore) SaveSession(ctx context.Context, session types.FriendLinkSession) error {
	payload, err := encodePayload(session)
	if err != nil {
		return err
	}
	return s.upsert(ctx, &sessionRow{InstanceID: session.InstanceID, GroupID: session.GroupID, Payload: payload})
}

func (s *SQLiteStateStore) LoadSession(ctx context.Context, instanceID string) (types.FriendLinkSession, bool, error) {
	return s.findSession(ctx, "instance_id = ?", instanceID)
}

func (s *SQLiteStateStore) FindSessionByGroup(ctx context.Context, groupID string) (types.FriendLinkSession, bool, error) {
	return s.findSession(ctx, "group_id = ?", groupID)
}

func (s *SQLiteStateStore) DeleteSession(ctx context.Context, instanceID string) error {
	err := s.db.WithContext(ctx).Where("instance_id = ?", instanceID).Delete(&sessionRow{}).Error
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to delete session").
			WithCause(err)
	}
	return nil
}

func (s *SQLiteStateStore) findSession(ctx context.Context, query string, arg string) (types.FriendLinkSession, bool, error) {
	var row sessionRow
	if err := s.first(ctx, &row, query, arg); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.FriendLinkSession{}, false, nil
		}
		return types.FriendLinkSession{}, false, notFoundOr(err, "session not found")
	}
	var session types.FriendLinkSession
	if err := decodePayload(row.Payload, &session); err != nil {
		return types.FriendLinkSession{}, false, err
	}
	return session, true, nil
}

func (s *SQLiteStateStore) upsert(ctx context.Context, row interface{}) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write state").
			WithCause(err)
	}
	return nil
}

func (s *SQLiteStateStore) first(ctx context.Context, row interface{}, query string, arg string) error {
	return s.db.WithContext(ctx).Where(query, arg).Take(row).Error
}

// trim drops the oldest rows of a history table beyond the store limit.
func (s *SQLiteStateStore) trim(ctx context.Context, model interface{}) error {
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultStateHistoryLimit
	}
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to count state rows").
			WithCause(err)
	}
	if count <= int64(limit) {
		return nil
	}
	var stale []string
	err := db.Model(model).
		Order("created_at ASC").Order("id ASC").
		Limit(int(count)-limit).
		Pluck("id", &stale).Error
	if err == nil && len(stale) > 0 {
		err = db.Where("id IN ?", stale).Delete(model).Error
	}
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to trim state history").
			WithCause(err)
	}
	log.Ctx(ctx).Debug().Int("dropped", len(stale)).Msg("trimmed state history")
	return nil
}

func encodePayload(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode state").
			WithCause(err)
	}
	return data, nil
}

func decodePayload(data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to decode state").
			WithCause(err)
	}
	return nil
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(msg)
	}
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("failed to read state").
		WithCause(err)
}

var _ ports.StateStorePort = (*SQLiteStateStore)(nil)
