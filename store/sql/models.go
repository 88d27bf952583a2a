package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-sessions/core"
	"github.com/uptrace/bun"
)

type sessionRecord struct {
	bun.BaseModel `bun:"table:session_records,alias:sr"`

	ID        string    `bun:"id,pk"`
	AppID     string    `bun:"app_id,notnull"`
	WebID     string    `bun:"web_id,notnull"`
	AppName   string    `bun:"app_name,notnull"`
	AppVendor string    `bun:"app_vendor,notnull"`
	IssuedAt  time.Time `bun:"issued_at,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *sessionRecord) toDomain() *core.Session {
	if r == nil {
		return nil
	}
	return &core.Session{
		WebID: r.WebID,
		AppInfo: core.AppInfo{
			ID:     r.AppID,
			Name:   r.AppName,
			Vendor: r.AppVendor,
		},
		IssuedAt: r.IssuedAt.UTC(),
	}
}

// apply copies session into r. The row key stays the store app id even when
// the session carries a different app info id.
func (r *sessionRecord) apply(appID string, session core.Session, now time.Time) {
	r.AppID = appID
	r.WebID = strings.TrimSpace(session.WebID)
	r.AppName = strings.TrimSpace(session.AppInfo.Name)
	r.AppVendor = strings.TrimSpace(session.AppInfo.Vendor)
	r.IssuedAt = session.IssuedAt.UTC()
	r.UpdatedAt = now
}
