package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/audit"
	"github.com/tech-arch1tect/authkit/services/metrics"
	"github.com/tech-arch1tect/authkit/services/refreshtoken"
	"github.com/tech-arch1tect/authkit/session"
	"github.com/tech-arch1tect/authkit/testutils"
)

type fakeRotator struct {
	cred      refreshtoken.RefreshCredential
	gate      chan struct{}
	rotateErr error
	recent    int64

	rotations  atomic.Int32
	revokedAll atomic.Int32
}

func (f *fakeRotator) Rotate(ctx context.Context, token string, device session.DeviceInfo) (*refreshtoken.RotationResult, error) {
	n := f.rotations.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.rotateErr != nil {
		return nil, f.rotateErr
	}
	return &refreshtoken.RotationResult{
		Token:      fmt.Sprintf("rotated-%d", n),
		Credential: refreshtoken.RefreshCredential{ID: uint(100 + n), UserID: f.cred.UserID, SessionID: f.cred.SessionID},
		Previous:   f.cred,
		UserID:     f.cred.UserID,
	}, nil
}

func (f *fakeRotator) Lookup(ctx context.Context, token string) (*refreshtoken.RefreshCredential, error) {
	c := f.cred
	return &c, nil
}

func (f *fakeRotator) RevokeAll(ctx context.Context, userID uint, reason string) (int64, error) {
	f.revokedAll.Add(1)
	return 3, nil
}

func (f *fakeRotator) CountRecentRotations(ctx context.Context, userID uint, since time.Time) (int64, error) {
	return f.recent, nil
}

func tokenOf(ctx context.Context, r *refreshtoken.RotationResult, _ Assessment) (string, error) {
	return r.Token, nil
}

func newCoordinator(t *testing.T, rot Rotator, mutate func(*config.Config)) (*Coordinator[string], *audit.MemorySink) {
	t.Helper()
	cfg := testutils.GetTestConfig()
	if mutate != nil {
		mutate(cfg)
	}
	c := New[string](rot, cfg, nil)
	sink := audit.NewMemorySink()
	c.SetAuditSink(sink)
	c.SetMetrics(metrics.New())
	return c, sink
}

func baseCred() refreshtoken.RefreshCredential {
	return refreshtoken.RefreshCredential{ID: 1, UserID: 7, SessionID: 3, IPAddress: "10.0.0.5", UserAgent: "ua-1"}
}

func TestRefresh_ConcurrentCallersShareOneRotation(t *testing.T) {
	rot := &fakeRotator{cred: baseCred(), gate: make(chan struct{})}
	c, _ := newCoordinator(t, rot, nil)

	const callers = 8
	results := make([]string, callers)
	sharedCount := atomic.Int32{}
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, shared, err := c.Refresh(context.Background(), Request{Token: "tok", SessionID: 3, Device: session.DeviceInfo{IPAddress: "10.0.0.5", UserAgent: "ua-1"}}, tokenOf)
			require.NoError(t, err)
			results[i] = v
			if shared {
				sharedCount.Add(1)
			}
		}(i)
	}

	require.Eventually(t, func() bool { return rot.rotations.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(rot.gate)
	wg.Wait()

	assert.Equal(t, int32(1), rot.rotations.Load())
	for _, r := range results {
		assert.Equal(t, "rotated-1", r)
	}
	assert.Equal(t, int32(callers-1), sharedCount.Load())
}

func TestRefresh_CompletedFlightIsForgotten(t *testing.T) {
	rot := &fakeRotator{cred: baseCred()}
	c, _ := newCoordinator(t, rot, nil)
	req := Request{Token: "tok", Device: session.DeviceInfo{IPAddress: "10.0.0.5", UserAgent: "ua-1"}}

	_, shared, err := c.Refresh(context.Background(), req, tokenOf)
	require.NoError(t, err)
	assert.False(t, shared)

	_, shared, err = c.Refresh(context.Background(), req, tokenOf)
	require.NoError(t, err)
	assert.False(t, shared, "a finished rotation must not be replayed to later callers")
	assert.Equal(t, int32(2), rot.rotations.Load())
	assert.Empty(t, c.recent)
}

func TestRefresh_GraceWindow(t *testing.T) {
	rot := &fakeRotator{cred: baseCred()}
	c, _ := newCoordinator(t, rot, func(cfg *config.Config) { cfg.Risk.RefreshGrace = 2 * time.Second })
	now := time.Now()
	c.now = func() time.Time { return now }
	laptop := session.DeviceInfo{IPAddress: "10.0.0.5", UserAgent: "ua-1"}
	req := Request{Token: "tok", SessionID: 3, Device: laptop}

	first, shared, err := c.Refresh(context.Background(), req, tokenOf)
	require.NoError(t, err)
	assert.False(t, shared)

	again, shared, err := c.Refresh(context.Background(), req, tokenOf)
	require.NoError(t, err)
	assert.True(t, shared)
	assert.Equal(t, first, again)

	_, _, err = c.Refresh(context.Background(), Request{Token: "tok", SessionID: 4, Device: laptop}, tokenOf)
	require.NoError(t, err)
	assert.Equal(t, int32(2), rot.rotations.Load(), "different session is a different flight")

	now = now.Add(3 * time.Second)
	_, shared, err = c.Refresh(context.Background(), req, tokenOf)
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, int32(3), rot.rotations.Load())

	c.Close()
	_, shared, _ = c.Refresh(context.Background(), req, tokenOf)
	assert.False(t, shared)
}

func TestRefresh_GraceWindowRejectsOtherDevices(t *testing.T) {
	rot := &fakeRotator{cred: baseCred()}
	c, _ := newCoordinator(t, rot, func(cfg *config.Config) { cfg.Risk.RefreshGrace = time.Minute })
	req := Request{Token: "tok", SessionID: 3, Device: session.DeviceInfo{IPAddress: "10.0.0.5", UserAgent: "ua-1"}}

	_, _, err := c.Refresh(context.Background(), req, tokenOf)
	require.NoError(t, err)

	for _, device := range []session.DeviceInfo{
		{IPAddress: "198.51.100.7", UserAgent: "ua-1"},
		{IPAddress: "10.0.0.5", UserAgent: "ua-2"},
	} {
		_, shared, err := c.Refresh(context.Background(), Request{Token: "tok", SessionID: 3, Device: device}, tokenOf)
		require.NoError(t, err)
		assert.False(t, shared, "%s/%s", device.IPAddress, device.UserAgent)
	}
	assert.Equal(t, int32(3), rot.rotations.Load())
}

func TestRefresh_FailuresAreNotRemembered(t *testing.T) {
	rot := &fakeRotator{cred: baseCred(), rotateErr: refreshtoken.ErrRefreshTokenExpired}
	c, _ := newCoordinator(t, rot, nil)
	req := Request{Token: "tok", SessionID: 3}

	_, _, err := c.Refresh(context.Background(), req, tokenOf)
	assert.ErrorIs(t, err, refreshtoken.ErrRefreshTokenExpired)
	_, _, err = c.Refresh(context.Background(), req, tokenOf)
	assert.ErrorIs(t, err, refreshtoken.ErrRefreshTokenExpired)
	assert.Equal(t, int32(2), rot.rotations.Load())
}

func TestRefresh_ReuseIsAudited(t *testing.T) {
	rot := &fakeRotator{cred: baseCred(), rotateErr: &refreshtoken.ReuseError{UserID: 7, CredentialID: 1, SessionID: 3}}
	c, sink := newCoordinator(t, rot, nil)

	_, _, err := c.Refresh(context.Background(), Request{Token: "tok", SessionID: 3}, tokenOf)
	assert.ErrorIs(t, err, refreshtoken.ErrReuseDetected)
	assert.Equal(t, 1, sink.Count(audit.EventRefreshReuse))
}

func TestRefresh_CompletionErrorSurfaces(t *testing.T) {
	rot := &fakeRotator{cred: baseCred()}
	c, _ := newCoordinator(t, rot, nil)
	boom := errors.New("signing key unavailable")

	_, _, err := c.Refresh(context.Background(), Request{Token: "tok", SessionID: 3},
		func(context.Context, *refreshtoken.RotationResult, Assessment) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}

func TestRiskSignals(t *testing.T) {
	tests := []struct {
		name     string
		ip, ua   string
		recent   int64
		escalate bool
		want     []Signal
		wantErr  bool
	}{
		{name: "same device", ip: "10.0.0.5", ua: "ua-1"},
		{name: "private ip move", ip: "10.0.0.9", ua: "ua-1", want: []Signal{SignalIPChanged}},
		{name: "user agent change", ip: "10.0.0.5", ua: "ua-2", want: []Signal{SignalUAChanged}},
		{name: "high frequency", ip: "10.0.0.5", ua: "ua-1", recent: 31, want: []Signal{SignalHighFrequency}},
		{name: "public move logged only", ip: "198.51.100.7", ua: "ua-1", want: []Signal{SignalIPChanged, SignalSuspicious}},
		{name: "public move escalated", ip: "198.51.100.7", ua: "ua-1", escalate: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := baseCred()
			cred.IPAddress = "10.0.0.5"
			if tt.ip == "198.51.100.7" {
				cred.IPAddress = "203.0.113.5"
			}
			rot := &fakeRotator{cred: cred, recent: tt.recent}
			c, sink := newCoordinator(t, rot, func(cfg *config.Config) { cfg.Risk.EscalateSuspicious = tt.escalate })

			var got Assessment
			_, _, err := c.Refresh(context.Background(),
				Request{Token: "tok", SessionID: 3, Device: session.DeviceInfo{IPAddress: tt.ip, UserAgent: tt.ua}},
				func(ctx context.Context, r *refreshtoken.RotationResult, a Assessment) (string, error) {
					got = a
					return r.Token, nil
				})

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSuspiciousRefresh)
				assert.Equal(t, int32(0), rot.rotations.Load())
				assert.Equal(t, int32(1), rot.revokedAll.Load())
				assert.Equal(t, 1, sink.Count(audit.EventCascadeRevocation))
				return
			}
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got.Signals)
			assert.Equal(t, int32(0), rot.revokedAll.Load())
		})
	}
}

func TestIsPublic(t *testing.T) {
	assert.True(t, isPublic("8.8.8.8"))
	assert.False(t, isPublic("192.168.1.1"))
	assert.False(t, isPublic("127.0.0.1"))
	assert.False(t, isPublic("fe80::1"))
	assert.False(t, isPublic("not-an-ip"))
}

func TestRefresh_RealEngineConcurrency(t *testing.T) {
	ctx := context.Background()
	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, &refreshtoken.RefreshCredential{})
	engine := refreshtoken.NewService(refreshtoken.NewRepository(db), cfg, nil)

	device := session.DeriveDevice("10.1.1.1", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	issued, err := engine.IssueRefreshCredential(ctx, 9, 4, device)
	require.NoError(t, err)

	c := New[string](engine, cfg, nil)

	const callers = 6
	start := make(chan struct{})
	results := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], _, errs[i] = c.Refresh(ctx, Request{Token: issued.Token, SessionID: 4, Device: device}, tokenOf)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}

	rotated, err := engine.CountRecentRotations(ctx, 9, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rotated)

	next, err := engine.Lookup(ctx, results[0])
	require.NoError(t, err)
	assert.True(t, next.IsValid(time.Now()))
}
