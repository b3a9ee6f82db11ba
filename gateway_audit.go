package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authgate/credential"
	"github.com/google/uuid"
)

// AuditErrorCode is the stable error label carried by failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidResponse    AuditErrorCode = "invalid_token_response"
	auditErrRefreshFailed      AuditErrorCode = "refresh_failed"
	auditErrTransport          AuditErrorCode = "transport"
	auditErrUpstream           AuditErrorCode = "upstream_error"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrTimeout            AuditErrorCode = "timeout"
	auditErrThrottled          AuditErrorCode = "throttled"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (g *Gateway) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	email string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if g == nil || g.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		RequestID: requestIDFromContext(ctx),
		Email:     email,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	g.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrLoginThrottled):
		return auditErrThrottled
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidTokenResponse), errors.Is(err, ErrInvalidRedirect):
		return auditErrInvalidResponse
	case errors.Is(err, context.DeadlineExceeded):
		return auditErrTimeout
	case errors.Is(err, ErrTransport):
		return auditErrTransport
	case errors.Is(err, ErrRefreshFailed):
		return auditErrRefreshFailed
	case errors.Is(err, ErrPassthrough):
		return auditErrUpstream
	case errors.Is(err, credential.ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
