package retention

import (
	"context"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/state"
	"chatsync/pkg/store"

	"github.com/google/uuid"
)

type Item struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	EndedAt        string `json:"ended_at"`
	Requests       int    `json:"requests"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

type Report struct {
	RunID        string `json:"run_id"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at"`
	DryRun       bool   `json:"dry_run"`
	Scanned      int    `json:"scanned"`
	Purged       int    `json:"purged"`
	Failed       int    `json:"failed"`
	TempsExpired int    `json:"temps_expired"`
	Items        []Item `json:"items,omitempty"`
}

func (m *Manager) runOnce(ctx context.Context) (*Report, error) {
	started := m.clock.Now().UTC()
	rep := &Report{RunID: uuid.NewString(), StartedAt: started.Format(time.RFC3339), DryRun: m.opts.DryRun}
	logger.Info("retention_run_start", "run_id", rep.RunID, "dry_run", m.opts.DryRun)

	cutoff := started.Add(-m.opts.Period).UnixNano()
	var eligible []models.LiveSession
	err := m.st.Sessions(func(ls *models.LiveSession) bool {
		rep.Scanned++
		if ls.Status == models.SessionEnded && ls.EndedTS > 0 && ls.EndedTS < cutoff {
			eligible = append(eligible, *ls)
		}
		return len(eligible) < m.opts.BatchSize
	})
	if err != nil {
		return rep, err
	}

	for i := range eligible {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		item := m.purgeSession(&eligible[i])
		switch item.Status {
		case "success":
			rep.Purged++
		case "failed":
			rep.Failed++
		}
		logger.Info("retention_item", "run_id", rep.RunID, "session", item.SessionID, "status", item.Status)
		rep.Items = append(rep.Items, item)
	}

	n, err := m.st.SweepTempIndex(started.Add(-m.opts.TempTTL).UnixNano(), m.opts.BatchSize, m.opts.DryRun)
	if err != nil {
		logger.Error("retention_temp_sweep_failed", "run_id", rep.RunID, "error", err)
	}
	rep.TempsExpired = n

	rep.FinishedAt = m.clock.Now().UTC().Format(time.RFC3339)
	logger.Info("retention_run_complete", "run_id", rep.RunID, "scanned", rep.Scanned, "purged", rep.Purged, "failed", rep.Failed, "temps_expired", rep.TempsExpired)
	if m.opts.ReportPath != "" {
		if werr := state.WriteJSON(m.opts.TmpDir, m.opts.ReportPath, rep); werr != nil {
			logger.Error("retention_report_write_failed", "path", m.opts.ReportPath, "error", werr)
		}
	}
	return rep, err
}

// purgeSession removes one ended session and its join requests in a single
// batch. The session's conversation stays until it is deleted explicitly.
func (m *Manager) purgeSession(ls *models.LiveSession) Item {
	const op = "retention.purge_session"
	item := Item{
		SessionID:      ls.ID,
		ConversationID: ls.ConversationID,
		EndedAt:        time.Unix(0, ls.EndedTS).UTC().Format(time.RFC3339),
	}

	unlock := m.locks.Lock("session:" + ls.ID)
	defer unlock()

	reqs, err := m.st.JoinRequests(ls.ID, "")
	if err != nil {
		return m.failed(item, err)
	}
	rids := make([]string, len(reqs))
	for i, r := range reqs {
		rids[i] = r.ID
	}
	item.Requests = len(rids)

	if m.opts.DryRun {
		item.Status = "dry_run"
		return item
	}
	if err := m.st.Update(op, func(w *store.Writer) error {
		w.DeleteSession(ls, rids)
		return nil
	}); err != nil {
		return m.failed(item, err)
	}
	item.Status = "success"
	return item
}

func (m *Manager) failed(item Item, err error) Item {
	item.Status = "failed"
	item.Error = err.Error()
	logger.Error("retention_purge_failed", "session", item.SessionID, "error", err)
	return item
}
