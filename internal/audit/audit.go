package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	auditmodel "github.com/frahmantamala/transport-fees/internal/core/datamodel/audit"
)

type RepositoryAPI interface {
	Append(ctx context.Context, entry *auditmodel.Entry) error
	ListForRecord(ctx context.Context, recordID string) ([]*auditmodel.Entry, error)
}

// Recorder writes audit entries for privileged actions. Writes share the
// caller's transaction when ctx carries one.
type Recorder struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewRecorder(repo RepositoryAPI, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, action, actorID string, recordID *string, details map[string]interface{}) error {
	entry := &auditmodel.Entry{
		Action:      action,
		ActorID:     actorID,
		FeeRecordID: recordID,
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return err
		}
		entry.Details = raw
	}
	if err := r.repo.Append(ctx, entry); err != nil {
		r.logger.Error("failed to write audit entry", "action", action, "actor_id", actorID, "error", err)
		return err
	}
	return nil
}

func (r *Recorder) ListForRecord(ctx context.Context, recordID string) ([]*auditmodel.Entry, error) {
	return r.repo.ListForRecord(ctx, recordID)
}
