package siteguard

import (
	"testing"
	"time"
)

func newTestLockout(clock *testClock) (*LockoutManager, *ReputationTracker) {
	store := NewInMemoryTTLStore()
	store.SetClock(clock.Now)
	codec := NewKeyCodec("test")

	repCfg := ReputationConfig{
		AutoBlacklistThreshold: 100,
		ViolationDecay:         Duration(time.Hour),
		BlacklistDuration:      Duration(24 * time.Hour),
	}
	tracker := NewReputationTracker(store, codec, repCfg, NopLogger{}, nil, nil)
	tracker.now = clock.Now

	buckets := map[string]BucketConfig{
		BucketLogin: {Threshold: 3, Window: Duration(15 * time.Minute)},
	}
	limiter := NewFixedWindowLimiter(store, codec, buckets, nil)

	loginCfg := LoginConfig{
		MaxAttempts:     3,
		Window:          Duration(15 * time.Minute),
		LockoutDuration: Duration(30 * time.Minute),
	}
	lockout := NewLockoutManager(store, codec, limiter, tracker, loginCfg, NopLogger{}, nil)
	lockout.now = clock.Now
	return lockout, tracker
}

func TestLockoutBelowThresholdAllowed(t *testing.T) {
	lockout, _ := newTestLockout(newTestClock())

	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	if d := lockout.CheckLockout("1.2.3.4"); !d.Allowed {
		t.Fatalf("expected allowed below max attempts")
	}
}

func TestLockoutAtMaxAttempts(t *testing.T) {
	lockout, tracker := newTestLockout(newTestClock())

	for i := 0; i < 3; i++ {
		lockout.HandleFailedAttempt("alice", "1.2.3.4")
	}
	d := lockout.CheckLockout("1.2.3.4")
	if d.Allowed {
		t.Fatalf("expected lockout at max attempts")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 30*time.Minute {
		t.Fatalf("unexpected RetryAfter: %v", d.RetryAfter)
	}
	// The lockout is an auto blacklist entry, so it blocks everything, not
	// just logins.
	if blocked, _ := tracker.IsBlacklisted("1.2.3.4"); !blocked {
		t.Fatalf("expected lockout to blacklist the IP")
	}
}

func TestLockoutExpires(t *testing.T) {
	clock := newTestClock()
	lockout, _ := newTestLockout(clock)

	for i := 0; i < 3; i++ {
		lockout.HandleFailedAttempt("alice", "1.2.3.4")
	}
	clock.Advance(31 * time.Minute)
	if d := lockout.CheckLockout("1.2.3.4"); !d.Allowed {
		t.Fatalf("expected lockout to expire")
	}
}

func TestSuccessfulLoginClearsState(t *testing.T) {
	lockout, _ := newTestLockout(newTestClock())

	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	lockout.HandleSuccessfulLogin("alice", "1.2.3.4")

	// The streak restarts: two more failures stay below the maximum.
	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	if d := lockout.CheckLockout("1.2.3.4"); !d.Allowed {
		t.Fatalf("cleared streak must not carry over")
	}
}

func TestPasswordChangeClearsLockout(t *testing.T) {
	lockout, _ := newTestLockout(newTestClock())

	for i := 0; i < 3; i++ {
		lockout.HandleFailedAttempt("alice", "1.2.3.4")
	}
	if d := lockout.CheckLockout("1.2.3.4"); d.Allowed {
		t.Fatalf("expected active lockout")
	}
	lockout.ClearOnPasswordChange("alice", "1.2.3.4")
	if d := lockout.CheckLockout("1.2.3.4"); !d.Allowed {
		t.Fatalf("password change must clear the lockout")
	}
}

func TestLockoutClearKeepsManualBlock(t *testing.T) {
	lockout, tracker := newTestLockout(newTestClock())

	tracker.AddToBlacklist("1.2.3.4", "operator block", 0, SourceManual)
	for i := 0; i < 3; i++ {
		lockout.HandleFailedAttempt("alice", "1.2.3.4")
	}
	lockout.HandleSuccessfulLogin("alice", "1.2.3.4")

	if d := lockout.CheckLockout("1.2.3.4"); !d.Allowed {
		t.Fatalf("lockout itself should be cleared")
	}
	if blocked, _ := tracker.IsBlacklisted("1.2.3.4"); !blocked {
		t.Fatalf("manual block must survive lockout clearing")
	}
}

func TestLockoutStoreErrorFailsOpen(t *testing.T) {
	codec := NewKeyCodec("test")
	cfg := LoginConfig{MaxAttempts: 3, Window: Duration(time.Minute), LockoutDuration: Duration(time.Minute)}
	tracker := NewReputationTracker(brokenStore{}, codec, ReputationConfig{AutoBlacklistThreshold: 100}, NopLogger{}, nil, nil)
	lockout := NewLockoutManager(brokenStore{}, codec, nil, tracker, cfg, NopLogger{}, nil)

	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	if d := lockout.CheckLockout("1.2.3.4"); !d.Allowed {
		t.Fatalf("store failure must not lock clients out")
	}
}

func TestLockoutCountsThroughLimiterBucket(t *testing.T) {
	lockout, _ := newTestLockout(newTestClock())

	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	// Resetting the limiter's login bucket clears the same counter the
	// lockout reads, so the streak restarts.
	if err := lockout.limiter.Reset(BucketLogin, "1.2.3.4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	lockout.HandleFailedAttempt("alice", "1.2.3.4")

	if decision := lockout.CheckLockout("1.2.3.4"); !decision.Allowed {
		t.Fatal("expected no lockout: the reset counter restarted the streak")
	}
	lockout.HandleFailedAttempt("alice", "1.2.3.4")
	if decision := lockout.CheckLockout("1.2.3.4"); decision.Allowed {
		t.Fatal("expected lockout after the restarted streak hit the maximum")
	}
}
