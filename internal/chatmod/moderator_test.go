package chatmod_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"signalmesh/internal/chatmod"
	"signalmesh/internal/kv"
)

func newTestModerator(t *testing.T, slowModeSeconds int) *chatmod.Moderator {
	t.Helper()
	mod, err := chatmod.New(chatmod.Config{
		Store:            kv.NewMemoryStore(),
		MaxMessageLength: 20,
		SlowModeSeconds:  slowModeSeconds,
	})
	if err != nil {
		t.Fatalf("new moderator: %v", err)
	}
	return mod
}

func TestValidateRejectsTooLongMessage(t *testing.T) {
	mod := newTestModerator(t, 0)
	allowed, reason := mod.Validate(context.Background(), "tenant-a", "stream_1", "user-1", strings.Repeat("x", 21))
	if allowed || reason != chatmod.ReasonTooLong {
		t.Fatalf("expected too-long rejection, got allowed=%v reason=%v", allowed, reason)
	}
}

func TestValidateRejectsEmptyMessage(t *testing.T) {
	mod := newTestModerator(t, 0)
	allowed, reason := mod.Validate(context.Background(), "tenant-a", "stream_1", "user-1", "   ")
	if allowed || reason != chatmod.ReasonEmpty {
		t.Fatalf("expected empty rejection, got allowed=%v reason=%v", allowed, reason)
	}
}

func TestValidateRejectsBannedUser(t *testing.T) {
	mod := newTestModerator(t, 0)
	ctx := context.Background()
	if err := mod.Ban(ctx, "tenant-a", "stream_1", "mod-1", "user-1", "spam", 0); err != nil {
		t.Fatalf("ban: %v", err)
	}
	allowed, reason := mod.Validate(ctx, "tenant-a", "stream_1", "user-1", "hello")
	if allowed || reason != chatmod.ReasonBanned {
		t.Fatalf("expected banned rejection, got allowed=%v reason=%v", allowed, reason)
	}
}

func TestValidateRejectsFilteredContentCaseInsensitive(t *testing.T) {
	mod := newTestModerator(t, 0)
	ctx := context.Background()
	if err := mod.AddFilterTerm(ctx, "tenant-a", "stream_1", "Badword"); err != nil {
		t.Fatalf("add filter term: %v", err)
	}
	allowed, reason := mod.Validate(ctx, "tenant-a", "stream_1", "user-1", "has BADWORD in it")
	if allowed || reason != chatmod.ReasonFiltered {
		t.Fatalf("expected filtered rejection, got allowed=%v reason=%v", allowed, reason)
	}
}

func TestValidateEnforcesSlowMode(t *testing.T) {
	mod := newTestModerator(t, 10)
	ctx := context.Background()
	allowed, _ := mod.Validate(ctx, "tenant-a", "stream_1", "user-1", "first")
	if !allowed {
		t.Fatal("expected first message to be allowed")
	}
	allowed, reason := mod.Validate(ctx, "tenant-a", "stream_1", "user-1", "second")
	if allowed || reason != chatmod.ReasonSlowMode {
		t.Fatalf("expected slow-mode rejection, got allowed=%v reason=%v", allowed, reason)
	}
}

func TestBanAndUnban(t *testing.T) {
	mod := newTestModerator(t, 0)
	ctx := context.Background()
	if err := mod.Ban(ctx, "tenant-a", "stream_1", "mod-1", "user-1", "spam", 0); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := mod.Unban(ctx, "tenant-a", "stream_1", "mod-1", "user-1"); err != nil {
		t.Fatalf("unban: %v", err)
	}
	allowed, _ := mod.Validate(ctx, "tenant-a", "stream_1", "user-1", "hello again")
	if !allowed {
		t.Fatal("expected message to be allowed after unban")
	}
}

func TestBanRejectsSelfBan(t *testing.T) {
	mod := newTestModerator(t, 0)
	if err := mod.Ban(context.Background(), "tenant-a", "stream_1", "user-1", "user-1", "spam", 0); err == nil {
		t.Fatal("expected self-ban to be rejected")
	}
}

func TestTimeoutAndRemoveTimeout(t *testing.T) {
	mod := newTestModerator(t, 0)
	ctx := context.Background()
	if err := mod.Timeout(ctx, "tenant-a", "stream_1", "mod-1", "user-1", "cooldown", time.Minute); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if !mod.IsTimedOut(ctx, "tenant-a", "stream_1", "user-1") {
		t.Fatal("expected user to be timed out")
	}
	if err := mod.RemoveTimeout(ctx, "tenant-a", "stream_1", "mod-1", "user-1"); err != nil {
		t.Fatalf("remove timeout: %v", err)
	}
	if mod.IsTimedOut(ctx, "tenant-a", "stream_1", "user-1") {
		t.Fatal("expected timeout to be lifted")
	}
}

func TestSubmitReportRequiresTargetAndReason(t *testing.T) {
	mod := newTestModerator(t, 0)
	if _, err := mod.SubmitReport(chatmod.Report{TenantID: "tenant-a", StreamID: "stream_1", ReporterID: "user-1"}); err == nil {
		t.Fatal("expected missing target/reason to be rejected")
	}
}
