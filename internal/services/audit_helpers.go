package services

import (
	"context"

	"github.com/zeh237/taskly/internal/auditctx"
)

const (
	auditSuccess = "success"
	auditFailure = "failure"
)

// recordAudit logs the supplied entry while tolerating audit failures. Request metadata
// carried on ctx fills in whatever the entry leaves blank.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.AccountID == nil && actor.AccountID != 0 {
			id := actor.AccountID
			entry.AccountID = &id
		}
		if entry.Actor == "" {
			entry.Actor = actor.Email
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
	}
	if entry.Result == "" {
		entry.Result = auditSuccess
	}
	_ = audit.Log(ctx, entry)
}

func accountRef(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}
