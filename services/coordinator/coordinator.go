// Package coordinator serializes refresh attempts so that one presented
// credential is rotated at most once, however many requests race with it.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"github.com/tech-arch1tect/authkit/services/refreshtoken"
	"github.com/tech-arch1tect/authkit/session"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrSuspiciousRefresh = errors.New("refresh rejected by risk policy")

// Rotator is the rotation engine seen by the coordinator.
type Rotator interface {
	Rotate(ctx context.Context, token string, device session.DeviceInfo) (*refreshtoken.RotationResult, error)
	Lookup(ctx context.Context, token string) (*refreshtoken.RefreshCredential, error)
	RevokeAll(ctx context.Context, userID uint, reason string) (int64, error)
	CountRecentRotations(ctx context.Context, userID uint, since time.Time) (int64, error)
}

type Request struct {
	Token     string
	SessionID uint
	Device    session.DeviceInfo
}

// Completion turns a rotation into the response shared by every caller that
// presented the same credential.
type Completion[T any] func(ctx context.Context, rotation *refreshtoken.RotationResult, risk Assessment) (T, error)

type recent[T any] struct {
	value   T
	device  string
	expires time.Time
}

type Coordinator[T any] struct {
	rotator Rotator
	config  *config.Config
	logger  *logging.Service
	audit   audit.Sink
	metrics *metrics.Recorder
	now     func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	recent map[string]recent[T]
}

func New[T any](rotator Rotator, cfg *config.Config, logger *logging.Service) *Coordinator[T] {
	return &Coordinator[T]{
		rotator: rotator,
		config:  cfg,
		logger:  logger.Named("coordinator"),
		audit:   audit.NopSink{},
		now:     func() time.Time { return time.Now().UTC() },
		recent:  make(map[string]recent[T]),
	}
}

func (c *Coordinator[T]) SetAuditSink(sink audit.Sink) {
	if sink != nil {
		c.audit = sink
	}
}

func (c *Coordinator[T]) SetMetrics(m *metrics.Recorder) {
	c.metrics = m
}

// Refresh runs rotation plus complete once per (token, session). Callers that
// arrive while it runs get the same value and shared=true. Once the flight
// ends the token is dead; a later caller goes to the rotator and trips reuse
// detection, unless a grace window is configured and the caller presents the
// same device and IP as the one that rotated.
func (c *Coordinator[T]) Refresh(ctx context.Context, req Request, complete Completion[T]) (value T, shared bool, err error) {
	key := flightKey(req.Token, req.SessionID)

	if v, ok := c.lookupRecent(key, req.Device); ok {
		c.metrics.Deduplicated()
		c.logger.Debug("refresh served from grace window", zap.Uint("session_id", req.SessionID))
		return v, true, nil
	}

	executed := false
	res, err, _ := c.group.Do(key, func() (any, error) {
		executed = true
		// the result is shared, so one caller going away must not cancel it
		v, err := c.rotate(context.WithoutCancel(ctx), req, complete)
		if err != nil {
			return nil, err
		}
		c.remember(key, req.Device, v)
		return v, nil
	})

	if !executed {
		c.metrics.Deduplicated()
		c.logger.Debug("joined in-flight refresh", zap.Uint("session_id", req.SessionID))
	}
	if err != nil {
		var zero T
		return zero, !executed, err
	}
	return res.(T), !executed, nil
}

func (c *Coordinator[T]) rotate(ctx context.Context, req Request, complete Completion[T]) (T, error) {
	var zero T

	c.metrics.RotationStarted()
	defer c.metrics.RotationFinished()

	risk, err := c.assess(ctx, req)
	if err != nil {
		c.metrics.Rotation("suspicious")
		return zero, err
	}

	rotation, err := c.rotator.Rotate(ctx, req.Token, req.Device)
	if err != nil {
		c.recordFailure(ctx, req, err)
		return zero, err
	}

	value, err := complete(ctx, rotation, risk)
	if err != nil {
		c.metrics.Rotation("error")
		return zero, err
	}

	c.metrics.Rotation("success")
	c.audit.Record(ctx, audit.Event{
		Type:      audit.EventRefreshRotated,
		UserID:    rotation.UserID,
		SessionID: rotation.Credential.SessionID,
		IPAddress: req.Device.IPAddress,
		UserAgent: req.Device.UserAgent,
		Details: map[string]any{
			"old_credential_id": rotation.Previous.ID,
			"new_credential_id": rotation.Credential.ID,
		},
	})
	return value, nil
}

// assess runs the risk heuristics. Signals are logged and audited; only a
// suspicious move with escalation enabled stops the refresh.
func (c *Coordinator[T]) assess(ctx context.Context, req Request) (Assessment, error) {
	var risk Assessment

	cred, err := c.rotator.Lookup(ctx, req.Token)
	if err != nil {
		// rotation reports the real error
		return risk, nil
	}

	if ipChanged(cred.IPAddress, req.Device.IPAddress) {
		risk.Signals = append(risk.Signals, SignalIPChanged)
		if suspiciousMove(cred.IPAddress, req.Device.IPAddress) {
			risk.Signals = append(risk.Signals, SignalSuspicious)
		}
	}
	if uaChanged(cred.UserAgent, req.Device.UserAgent) {
		risk.Signals = append(risk.Signals, SignalUAChanged)
	}

	if limit := c.config.Risk.MaxRotationsPerHour; limit > 0 {
		n, err := c.rotator.CountRecentRotations(ctx, cred.UserID, c.now().Add(-time.Hour))
		if err != nil {
			c.logger.Warn("failed to count recent rotations", zap.Uint("user_id", cred.UserID), zap.Error(err))
		} else {
			risk.Rotations = n
			if n > int64(limit) {
				risk.Signals = append(risk.Signals, SignalHighFrequency)
			}
		}
	}

	for _, s := range risk.Signals {
		c.report(ctx, cred, req, s, risk)
	}

	if risk.Suspicious() && c.config.Risk.EscalateSuspicious {
		n, err := c.rotator.RevokeAll(ctx, cred.UserID, refreshtoken.ReasonSecurityEvent)
		if err != nil {
			return risk, errors.Join(ErrSuspiciousRefresh, err)
		}
		c.audit.Record(ctx, audit.Event{
			Type:      audit.EventCascadeRevocation,
			Severity:  audit.SeverityCritical,
			UserID:    cred.UserID,
			SessionID: cred.SessionID,
			IPAddress: req.Device.IPAddress,
			Details:   map[string]any{"reason": refreshtoken.ReasonSecurityEvent, "revoked": n},
		})
		return risk, &SuspiciousError{UserID: cred.UserID, SessionID: cred.SessionID}
	}
	return risk, nil
}

func (c *Coordinator[T]) report(ctx context.Context, cred *refreshtoken.RefreshCredential, req Request, s Signal, risk Assessment) {
	c.metrics.RiskSignal(string(s))

	fields := []zap.Field{
		zap.Uint("user_id", cred.UserID),
		zap.Uint("credential_id", cred.ID),
		zap.String("signal", string(s)),
	}
	event := audit.Event{
		Severity:  audit.SeverityWarning,
		UserID:    cred.UserID,
		SessionID: cred.SessionID,
		IPAddress: req.Device.IPAddress,
		UserAgent: req.Device.UserAgent,
	}

	switch s {
	case SignalIPChanged:
		event.Type = audit.EventRefreshIPChanged
		event.Severity = audit.SeverityInfo
		event.Details = map[string]any{"previous_ip": cred.IPAddress}
	case SignalSuspicious:
		event.Type = audit.EventRefreshSuspicious
		event.Details = map[string]any{"previous_ip": cred.IPAddress, "escalate": c.config.Risk.EscalateSuspicious}
	case SignalUAChanged:
		event.Type = audit.EventRefreshUAChanged
		event.Severity = audit.SeverityInfo
		event.Details = map[string]any{"previous_user_agent": cred.UserAgent}
	case SignalHighFrequency:
		event.Type = audit.EventRefreshHighFreq
		event.Details = map[string]any{"rotations_last_hour": risk.Rotations}
	}

	c.logger.Warn("refresh risk signal", fields...)
	c.audit.Record(ctx, event)
}

func (c *Coordinator[T]) recordFailure(ctx context.Context, req Request, err error) {
	var reuse *refreshtoken.ReuseError
	switch {
	case errors.As(err, &reuse):
		c.metrics.Rotation("reuse")
		c.metrics.ReuseDetected()
		c.audit.Record(ctx, audit.Event{
			Type:      audit.EventRefreshReuse,
			Severity:  audit.SeverityCritical,
			UserID:    reuse.UserID,
			SessionID: reuse.SessionID,
			IPAddress: req.Device.IPAddress,
			UserAgent: req.Device.UserAgent,
			Details:   map[string]any{"credential_id": reuse.CredentialID},
		})
	case errors.Is(err, refreshtoken.ErrRotationConflict):
		c.metrics.Rotation("conflict")
	case errors.Is(err, refreshtoken.ErrRefreshTokenNotFound),
		errors.Is(err, refreshtoken.ErrRefreshTokenExpired),
		errors.Is(err, refreshtoken.ErrRefreshTokenRevoked):
		c.metrics.Rotation("invalid")
	default:
		c.metrics.Rotation("error")
		c.logger.Error("refresh rotation failed", zap.Error(err))
	}
}

func (c *Coordinator[T]) lookupRecent(key string, device session.DeviceInfo) (T, bool) {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.recent[key]
	if !ok {
		return zero, false
	}
	if !c.now().Before(r.expires) {
		delete(c.recent, key)
		return zero, false
	}
	if r.device != deviceBinding(device) {
		// a different client presenting a rotated token is a replay
		delete(c.recent, key)
		return zero, false
	}
	return r.value, true
}

func (c *Coordinator[T]) remember(key string, device session.DeviceInfo, v T) {
	grace := c.config.Risk.RefreshGrace
	if grace <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, r := range c.recent {
		if !now.Before(r.expires) {
			delete(c.recent, k)
		}
	}
	c.recent[key] = recent[T]{value: v, device: deviceBinding(device), expires: now.Add(grace)}
}

// Close drops remembered results so no token outlives the coordinator.
func (c *Coordinator[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = make(map[string]recent[T])
}

func deviceBinding(d session.DeviceInfo) string {
	return d.IPAddress + "|" + d.UserAgent
}

func flightKey(token string, sessionID uint) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]) + ":" + strconv.FormatUint(uint64(sessionID), 10)
}

// SuspiciousError is returned after an escalated risk decision revoked the
// user's credentials.
type SuspiciousError struct {
	UserID    uint
	SessionID uint
}

func (e *SuspiciousError) Error() string {
	return ErrSuspiciousRefresh.Error()
}

func (e *SuspiciousError) Is(target error) bool {
	return target == ErrSuspiciousRefresh
}
