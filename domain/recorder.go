package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// AuditStore appends immutable audit entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// ActivityRecorder appends audit entries for committed mutations. Recording
// is log-and-continue: a storage failure here must never fail the mutation
// that triggered it.
type ActivityRecorder struct {
	st     AuditStore
	logger *log.Logger
}

func NewActivityRecorder(st AuditStore, logger *log.Logger) ActivityRecorder {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return ActivityRecorder{st: st, logger: logger}
}

// Record appends one entry. Details are JSON-marshalled; unmarshallable
// details degrade to an entry without details rather than an error.
func (r ActivityRecorder) Record(ctx context.Context, boardID, actorID string, action AuditAction, details any) {
	entry := AuditEntry{
		ID:      uuid.NewString(),
		BoardID: boardID,
		ActorID: actorID,
		Action:  action,
		Time:    time.Now().UTC(),
	}
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			r.logger.WithFields(log.Fields{"board": boardID, "action": action}).Errorf("marshal audit details: %v", err)
		} else {
			entry.Details = data
		}
	}
	if err := r.st.AppendAudit(ctx, entry); err != nil {
		r.logger.WithFields(log.Fields{"board": boardID, "actor": actorID, "action": action}).Errorf("append audit entry: %v", err)
	}
}
