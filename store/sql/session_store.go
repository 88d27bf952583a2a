package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-sessions/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionStore keeps one session_records row per application id.
type SessionStore struct {
	db   *bun.DB
	repo repository.Repository[*sessionRecord]
	now  func() time.Time
}

func NewSessionStore(db *bun.DB) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*sessionRecord](db, sessionRecordHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid session repository wiring: %w", err)
		}
	}
	return &SessionStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SessionStore) Load(ctx context.Context, appID string) (*core.Session, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: session store is not configured")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, fmt.Errorf("sqlstore: app id is required")
	}
	record, err := s.find(ctx, appID)
	if err != nil {
		return nil, err
	}
	return record.toDomain(), nil
}

func (s *SessionStore) Save(ctx context.Context, appID string, session core.Session) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: session store is not configured")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return fmt.Errorf("sqlstore: app id is required")
	}
	if strings.TrimSpace(session.WebID) == "" {
		return fmt.Errorf("sqlstore: session web id is required")
	}

	now := s.now()
	current, err := s.find(ctx, appID)
	if err != nil {
		return err
	}
	if current == nil {
		record := &sessionRecord{ID: uuid.NewString(), CreatedAt: now}
		record.apply(appID, session, now)
		_, err = s.repo.Create(ctx, record)
		return err
	}
	current.apply(appID, session, now)
	_, err = s.repo.Update(ctx, current, repository.UpdateByID(current.ID))
	return err
}

func (s *SessionStore) Clear(ctx context.Context, appID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: session store is not configured")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return fmt.Errorf("sqlstore: app id is required")
	}
	_, err := s.db.NewDelete().
		Model((*sessionRecord)(nil)).
		Where("app_id = ?", appID).
		Exec(ctx)
	return err
}

// Count returns the number of stored sessions.
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: session store is not configured")
	}
	return s.db.NewSelect().Model((*sessionRecord)(nil)).Count(ctx)
}

func (s *SessionStore) find(ctx context.Context, appID string) (*sessionRecord, error) {
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("app_id", "=", appID),
		repository.OrderBy("updated_at DESC"),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}
