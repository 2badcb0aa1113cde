package middleware

import (
	"net/http"
	"strings"
	"time"

	"sweepstakes-wallet/internal/core/domain"
	"sweepstakes-wallet/pkg/apperror"
	"sweepstakes-wallet/pkg/logger"
	"sweepstakes-wallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Identity headers set by the trusted gateway after authentication.
	HeaderUserID            = "X-User-ID"
	HeaderUserState         = "X-User-State"
	HeaderUserKYC           = "X-User-KYC"
	HeaderUserKYCLevel      = "X-User-KYC-Level"
	HeaderUserSelfExclusion = "X-User-Self-Exclusion-Until"
	HeaderActorID           = "X-Actor-ID"
	HeaderActorRoles        = "X-Actor-Roles"
	HeaderCorrelationID     = "X-Correlation-ID"
	HeaderRequestID         = "X-Request-ID"

	maxCorrelationIDLength = 128

	// Context keys
	CtxRequestID     = "request_id"
	CtxCorrelationID = "correlation_id"
	CtxActor         = "actor"
	CtxSubject       = "subject"
)

// RequestID assigns every request an id, reusing a sane incoming X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxCorrelationIDLength {
			id = uuid.New().String()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// Identity reads the gateway identity headers. The actor defaults to the
// user when X-Actor-ID is absent. Malformed headers are rejected with AUTH_002.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(CtxCorrelationID, correlationOf(c))

		roles := parseRoles(c.GetHeader(HeaderActorRoles))

		var subject *domain.ComplianceSubject
		if raw := c.GetHeader(HeaderUserID); raw != "" {
			s, err := parseSubject(c, raw)
			if err != nil {
				response.Error(c, err)
				c.Abort()
				return
			}
			subject = s
		}

		actor := domain.Actor{Roles: roles}
		if raw := c.GetHeader(HeaderActorID); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				response.Error(c, apperror.ErrInvalidSubject("invalid "+HeaderActorID))
				c.Abort()
				return
			}
			actor.ID = id
		} else if subject != nil {
			actor.ID = subject.UserID
		}

		if subject != nil {
			if actor.ID == subject.UserID {
				subject.Roles = roles
			} else {
				subject.Roles = []domain.Role{domain.RolePlayer}
			}
			c.Set(CtxSubject, *subject)
		}
		if actor.ID != uuid.Nil {
			c.Set(CtxActor, actor)
		}
		c.Next()
	}
}

func parseSubject(c *gin.Context, rawID string) (*domain.ComplianceSubject, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, apperror.ErrInvalidSubject("invalid " + HeaderUserID)
	}
	s := &domain.ComplianceSubject{
		UserID:    id,
		StateCode: strings.ToUpper(strings.TrimSpace(c.GetHeader(HeaderUserState))),
		KYCStatus: domain.KYCStatus(strings.ToUpper(strings.TrimSpace(c.GetHeader(HeaderUserKYC)))),
		KYCLevel:  domain.KYCLevel(strings.ToUpper(strings.TrimSpace(c.GetHeader(HeaderUserKYCLevel)))),
	}
	if raw := c.GetHeader(HeaderUserSelfExclusion); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, apperror.ErrInvalidSubject("invalid " + HeaderUserSelfExclusion)
		}
		until = until.UTC()
		s.SelfExclusionUntil = &until
	}
	return s, nil
}

func parseRoles(raw string) []domain.Role {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	roles := make([]domain.Role, 0, len(parts))
	for _, p := range parts {
		if r := strings.ToUpper(strings.TrimSpace(p)); r != "" {
			roles = append(roles, domain.Role(r))
		}
	}
	return roles
}

// ActorFrom returns the authenticated actor.
func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(CtxActor)
	if !ok {
		return domain.Actor{}, false
	}
	a, ok := v.(domain.Actor)
	return a, ok
}

// SubjectFrom returns the compliance subject asserted by the gateway.
func SubjectFrom(c *gin.Context) (domain.ComplianceSubject, bool) {
	v, ok := c.Get(CtxSubject)
	if !ok {
		return domain.ComplianceSubject{}, false
	}
	s, ok := v.(domain.ComplianceSubject)
	return s, ok
}

// CorrelationID returns the id propagated into ledger entries and logs.
func CorrelationID(c *gin.Context) string {
	if id := c.GetString(CtxCorrelationID); id != "" {
		return id
	}
	return correlationOf(c)
}

// correlationOf prefers the caller's X-Correlation-ID and falls back to the request id.
func correlationOf(c *gin.Context) string {
	id := c.GetHeader(HeaderCorrelationID)
	if id == "" {
		id = c.GetString(CtxRequestID)
	}
	if len(id) > maxCorrelationIDLength {
		id = id[:maxCorrelationIDLength]
	}
	return id
}

// RequestLogger logs every HTTP request and stores a request-scoped logger
// carrying the correlation id in the request context.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logger.WithCorrelation(c.Request.Context(), log, correlationOf(c))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		reqLog := logger.FromContext(c.Request.Context(), log)
		event := reqLog.Info()
		if status >= http.StatusInternalServerError {
			event = reqLog.Error()
		} else if status >= http.StatusBadRequest {
			event = reqLog.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": apperror.CodeInternal,
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// HTTPObserver records served requests.
type HTTPObserver interface {
	ObserveHTTP(method, path string, status int, elapsed time.Duration)
}

// Metrics reports every request to obs under its route template.
func Metrics(obs HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		obs.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
