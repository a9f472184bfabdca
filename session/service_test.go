package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/authkit/testutils"
)

const (
	chromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	safariIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestManager(t *testing.T) (*Manager, *clock) {
	t.Helper()
	db := testutils.SetupTestDB(t, &UserSession{})
	cfg := testutils.GetTestConfig()
	cfg.Session.MaxPerUser = 3

	c := &clock{t: time.Now().UTC()}
	m := NewManager(NewRepository(db), cfg, nil)
	m.now = c.now
	return m, c
}

func TestCreateOrReuseSession_DedupByFingerprint(t *testing.T) {
	ctx := context.Background()
	m, c := newTestManager(t)
	device := DeriveDevice("203.0.113.7", chromeWindows)

	first, err := m.CreateOrReuseSession(ctx, 1, device, AuthMethodPassword)
	require.NoError(t, err)
	assert.True(t, first.Active)
	assert.Equal(t, Fingerprint(device), first.DeviceFingerprint)

	c.t = c.t.Add(5 * time.Minute)

	second, err := m.CreateOrReuseSession(ctx, 1, device, AuthMethodOAuth)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, AuthMethodOAuth, second.AuthMethod)
	assert.True(t, second.LastActivityAt.After(first.LastActivityAt))

	active, err := m.ListActive(ctx, 1, second.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Current)
}

func TestCreateOrReuseSession_NewDeviceNewSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	a, err := m.CreateOrReuseSession(ctx, 1, DeriveDevice("203.0.113.7", chromeWindows), AuthMethodPassword)
	require.NoError(t, err)
	b, err := m.CreateOrReuseSession(ctx, 1, DeriveDevice("203.0.113.7", safariIPhone), AuthMethodPassword)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestCreateOrReuseSession_ExpiredSessionNotReused(t *testing.T) {
	ctx := context.Background()
	m, c := newTestManager(t)
	device := DeriveDevice("203.0.113.7", chromeWindows)

	first, err := m.CreateOrReuseSession(ctx, 1, device, AuthMethodPassword)
	require.NoError(t, err)

	c.t = c.t.Add(m.config.Session.TTL + time.Minute)

	second, err := m.CreateOrReuseSession(ctx, 1, device, AuthMethodPassword)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateOrReuseSession_EnforcesLimit(t *testing.T) {
	ctx := context.Background()
	m, c := newTestManager(t)

	var evicted []uint
	m.SetEvictionHook(func(_ context.Context, s UserSession) {
		evicted = append(evicted, s.ID)
	})

	var ids []uint
	for i := 0; i < 4; i++ {
		c.t = c.t.Add(time.Minute)
		sess, err := m.CreateOrReuseSession(ctx, 1, DeriveDevice("198.51.100."+string(rune('1'+i)), chromeWindows), AuthMethodPassword)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	active, err := m.ListActive(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, active, 3)
	assert.Equal(t, []uint{ids[0]}, evicted, "the least recently used session is evicted")
}

func TestLinkAndTouch(t *testing.T) {
	ctx := context.Background()
	m, c := newTestManager(t)

	sess, err := m.CreateOrReuseSession(ctx, 1, DeriveDevice("203.0.113.7", chromeWindows), AuthMethodPassword)
	require.NoError(t, err)

	require.NoError(t, m.LinkRefreshCredential(ctx, sess.ID, 77))

	c.t = c.t.Add(time.Minute)
	require.NoError(t, m.TouchActivity(ctx, sess.ID, DeviceInfo{IPAddress: "203.0.113.8"}))

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, uint(77), got.RefreshCredentialID)
	assert.Equal(t, "203.0.113.8", got.IPAddress)
	assert.WithinDuration(t, c.t, got.LastActivityAt, time.Second)

	assert.ErrorIs(t, m.TouchActivity(ctx, 999, DeviceInfo{}), ErrSessionNotFound)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	sess, err := m.CreateOrReuseSession(ctx, 1, DeriveDevice("203.0.113.7", chromeWindows), AuthMethodPassword)
	require.NoError(t, err)

	require.NoError(t, m.EndSession(ctx, sess.ID))
	require.NoError(t, m.EndSession(ctx, sess.ID), "ending twice is a no-op")

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.NotNil(t, got.LogoutAt)

	assert.ErrorIs(t, m.TouchActivity(ctx, sess.ID, DeviceInfo{}), ErrSessionInactive)
}

func TestEndUserSession_Ownership(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	sess, err := m.CreateOrReuseSession(ctx, 1, DeriveDevice("203.0.113.7", chromeWindows), AuthMethodPassword)
	require.NoError(t, err)

	_, err = m.EndUserSession(ctx, 2, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = m.EndUserSession(ctx, 1, sess.ID)
	assert.NoError(t, err)
}

func TestEndAllSessions(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.CreateOrReuseSession(ctx, 1, DeriveDevice("203.0.113.7", chromeWindows), AuthMethodPassword)
	require.NoError(t, err)
	_, err = m.CreateOrReuseSession(ctx, 1, DeriveDevice("203.0.113.7", safariIPhone), AuthMethodPassword)
	require.NoError(t, err)
	_, err = m.CreateOrReuseSession(ctx, 2, DeriveDevice("203.0.113.7", safariIPhone), AuthMethodPassword)
	require.NoError(t, err)

	n, err := m.EndAllSessions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, _ := m.ListActive(ctx, 2, 0)
	assert.Len(t, active, 1)
}

func TestNeedsReauthentication(t *testing.T) {
	ctx := context.Background()
	m, c := newTestManager(t)

	sess, err := m.CreateOrReuseSession(ctx, 1, DeriveDevice("203.0.113.7", chromeWindows), AuthMethodPassword)
	require.NoError(t, err)

	needs, err := m.NeedsReauthentication(ctx, sess.ID, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, needs)

	c.t = c.t.Add(11 * time.Minute)
	needs, err = m.NeedsReauthentication(ctx, sess.ID, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, needs)

	needs, err = m.NeedsReauthentication(ctx, 999, time.Hour)
	require.NoError(t, err)
	assert.True(t, needs)

	require.NoError(t, m.TouchActivity(ctx, sess.ID, DeviceInfo{}))
	require.NoError(t, m.EndSession(ctx, sess.ID))
	needs, err = m.NeedsReauthentication(ctx, sess.ID, time.Hour)
	require.NoError(t, err)
	assert.True(t, needs)
}

func TestMarkTrusted(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	sess, err := m.CreateOrReuseSession(ctx, 1, DeriveDevice("203.0.113.7", chromeWindows), AuthMethodPassword)
	require.NoError(t, err)

	assert.ErrorIs(t, m.MarkTrusted(ctx, 2, sess.ID, true), ErrSessionNotFound)
	require.NoError(t, m.MarkTrusted(ctx, 1, sess.ID, true))

	got, _ := m.Get(ctx, sess.ID)
	assert.True(t, got.Trusted)
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	m, c := newTestManager(t)

	sess, err := m.CreateOrReuseSession(ctx, 1, DeriveDevice("203.0.113.7", chromeWindows), AuthMethodPassword)
	require.NoError(t, err)

	c.t = c.t.Add(m.config.Session.TTL + time.Minute)
	require.NoError(t, m.CleanupExpired(ctx))

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	c.t = c.t.Add(m.config.RefreshToken.RetentionWindow + time.Minute)
	require.NoError(t, m.CleanupExpired(ctx))

	_, err = m.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTransitions(t *testing.T) {
	now := time.Now()
	s := newSession(1, "fp", DeviceInfo{IPAddress: "10.0.0.1"}, AuthMethodPassword, now, time.Hour)

	ended, err := Logout(s, now)
	require.NoError(t, err)
	assert.False(t, ended.Active)
	assert.True(t, s.Active, "the input value is not mutated")

	_, err = Logout(ended, now)
	assert.ErrorIs(t, err, ErrSessionInactive)

	touched := Touch(s, DeviceInfo{}, now.Add(time.Minute))
	assert.Equal(t, "10.0.0.1", touched.IPAddress)
	assert.True(t, touched.IsActive(now.Add(time.Minute)))
	assert.False(t, touched.IsActive(now.Add(2*time.Hour)))
}
