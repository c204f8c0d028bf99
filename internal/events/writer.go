package events

import (
	"context"
	"database/sql"
	"time"

	"chaseline/internal/domain"
)

// Writer appends activity records inside the caller's transaction so a status
// change and its audit entry commit together.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append inserts the activity and returns it with the ID filled in. A zero
// TS is stamped from the writer's clock; callers holding the authoritative
// clock stamp it themselves.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, a domain.Activity) (domain.Activity, error) {
	if a.TS.IsZero() {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		a.TS = now().UTC()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO activities(item_id,agent_type,action,channel,tone,outcome,detail,ts) VALUES (?,?,?,?,?,?,?,?)`,
		a.ItemID, a.AgentType, a.Action, nullable(string(a.Channel)), nullable(string(a.Tone)), a.Outcome, nullable(a.Detail), a.TS.Format(time.RFC3339))
	if err != nil {
		return a, err
	}
	a.ID, err = res.LastInsertId()
	return a, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
