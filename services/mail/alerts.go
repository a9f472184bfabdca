package mail

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/auth"
	"github.com/tech-arch1tect/authkit/services/kvstore"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
)

// UserLookup resolves the recipient of an alert.
type UserLookup interface {
	FindByID(ctx context.Context, id uint) (*auth.User, error)
}

type alert struct {
	subject string
	body    *template.Template
}

var alerts = map[audit.EventType]alert{
	audit.EventCascadeRevocation: {
		subject: "All of your sessions were signed out",
		body: template.Must(template.New("cascade").Parse(`Hello {{.Email}},

We detected a reused or suspicious sign-in token on your account at {{.When}}
and signed out every device as a precaution.

Sign in again to continue. If you did not expect this, change your password.
`)),
	},
	audit.EventRefreshSuspicious: {
		subject: "Unusual activity on your account",
		body: template.Must(template.New("suspicious").Parse(`Hello {{.Email}},

A session on your account was refreshed from an unfamiliar network or device
at {{.When}}{{with .IP}} (IP {{.}}){{end}}.

If this was not you, sign out your other sessions and change your password.
`)),
	},
	audit.EventOAuthLinked: {
		subject: "A sign-in provider was linked to your account",
		body: template.Must(template.New("linked").Parse(`Hello {{.Email}},

{{with .Provider}}{{.}}{{else}}An external provider{{end}} can now be used to sign in to your account.
The link was made at {{.When}}.

If you did not do this, contact support.
`)),
	},
}

type alertData struct {
	Email    string
	When     string
	IP       string
	Provider string
}

// AlertSink emails the account owner about security events. Repeats of the
// same event for a user are suppressed for the cooldown window.
type AlertSink struct {
	sender   Sender
	users    UserLookup
	store    kvstore.Store
	cooldown time.Duration
	logger   *logging.Service
}

func NewAlertSink(sender Sender, users UserLookup, store kvstore.Store, cooldown time.Duration, logger *logging.Service) *AlertSink {
	return &AlertSink{
		sender:   sender,
		users:    users,
		store:    store,
		cooldown: cooldown,
		logger:   logger.Named("alerts"),
	}
}

func (s *AlertSink) Record(ctx context.Context, e audit.Event) {
	a, ok := alerts[e.Type]
	if !ok || e.UserID == 0 {
		return
	}
	if err := s.deliver(ctx, a, e); err != nil {
		s.logger.Warn("security alert not delivered",
			zap.String("event", string(e.Type)),
			zap.Uint("user_id", e.UserID),
			zap.Error(err))
	}
}

func (s *AlertSink) deliver(ctx context.Context, a alert, e audit.Event) error {
	key := fmt.Sprintf("alert:%s:%d", e.Type, e.UserID)
	if s.store != nil && s.cooldown > 0 {
		if _, seen, err := s.store.Get(ctx, key); err == nil && seen {
			return nil
		}
	}

	user, err := s.users.FindByID(ctx, e.UserID)
	if err != nil {
		return err
	}

	when := e.OccurredAt
	if when.IsZero() {
		when = time.Now()
	}
	data := alertData{
		Email: user.Email,
		When:  when.UTC().Format(time.RFC1123),
		IP:    e.IPAddress,
	}
	if p, ok := e.Details["provider"].(string); ok {
		data.Provider = p
	}

	var body bytes.Buffer
	if err := a.body.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render alert: %w", err)
	}
	if err := s.sender.SendPlain(ctx, []string{user.Email}, a.subject, body.String()); err != nil {
		return err
	}

	if s.store != nil && s.cooldown > 0 {
		if err := s.store.Set(ctx, key, []byte{1}, s.cooldown); err != nil {
			s.logger.Warn("failed to record alert cooldown", zap.Error(err))
		}
	}
	s.logger.Info("security alert sent", zap.String("event", string(e.Type)), zap.Uint("user_id", e.UserID))
	return nil
}
