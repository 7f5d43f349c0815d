package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/errors"
)

func TestGrantAccessOpensWindow(t *testing.T) {
	svc, _, access := newTestService(1)
	ctx := context.Background()

	grant, err := svc.GrantAccess(ctx, nil, 1, "redeem", 24*time.Hour, "g1")
	if err != nil {
		t.Fatalf("GrantAccess: %v", err)
	}
	if grant.Action != domain.AccessActionGrant {
		t.Fatalf("expected grant action, got %s", grant.Action)
	}
	if !grant.Active {
		t.Fatalf("new grant is not active")
	}
	if len(access.grants) != 1 {
		t.Fatalf("expected 1 grant row, got %d", len(access.grants))
	}
}

func TestGrantAccessRefusesSecondWindow(t *testing.T) {
	svc, _, _ := newTestService(1)
	ctx := context.Background()

	if _, err := svc.GrantAccess(ctx, nil, 1, "redeem", 24*time.Hour, "g1"); err != nil {
		t.Fatalf("first grant: %v", err)
	}

	_, err := svc.GrantAccess(ctx, nil, 1, "redeem", 24*time.Hour, "g2")
	if errors.CodeOf(err) != errors.CodeValidation {
		t.Fatalf("expected validation error for concurrent window, got %v", err)
	}
}

func TestGrantAccessIdempotentReplay(t *testing.T) {
	svc, _, access := newTestService(1)
	ctx := context.Background()

	first, err := svc.GrantAccess(ctx, nil, 1, "redeem", 24*time.Hour, "same")
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}

	second, err := svc.GrantAccess(ctx, nil, 1, "redeem", 24*time.Hour, "same")
	if err != nil {
		t.Fatalf("replay grant: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay produced a new row: %d vs %d", second.ID, first.ID)
	}
	if len(access.grants) != 1 {
		t.Fatalf("replay appended a second row")
	}
}

func TestExtendAccessLengthensWindow(t *testing.T) {
	svc, _, access := newTestService(1)
	ctx := context.Background()

	first, err := svc.GrantAccess(ctx, nil, 1, "redeem", 24*time.Hour, "g1")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	extended, err := svc.ExtendAccess(ctx, nil, 1, "redeem", 48*time.Hour, "e1")
	if err != nil {
		t.Fatalf("ExtendAccess: %v", err)
	}
	if extended.Action != domain.AccessActionExtend {
		t.Fatalf("expected extend action, got %s", extended.Action)
	}
	if want := first.ExpiresAt.Add(48 * time.Hour); !extended.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, extended.ExpiresAt)
	}

	// The old row is retired, never deleted.
	if len(access.grants) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(access.grants))
	}
	if access.grants[0].Active {
		t.Fatalf("original grant still active after extend")
	}

	active, err := svc.ActiveGrant(ctx, nil, 1)
	if err != nil {
		t.Fatalf("ActiveGrant: %v", err)
	}
	if active == nil || active.ID != extended.ID {
		t.Fatalf("expected the extend row to be the single active window")
	}
}

func TestExtendAccessWithoutWindow(t *testing.T) {
	svc, _, _ := newTestService(1)

	_, err := svc.ExtendAccess(context.Background(), nil, 1, "redeem", 24*time.Hour, "e1")
	if errors.CodeOf(err) != errors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEnsureAccessGrantsThenExtends(t *testing.T) {
	svc, _, _ := newTestService(1)
	ctx := context.Background()

	first, err := svc.EnsureAccess(ctx, nil, 1, "achievement", 72*time.Hour, "a1")
	if err != nil {
		t.Fatalf("first EnsureAccess: %v", err)
	}
	if first.Action != domain.AccessActionGrant {
		t.Fatalf("expected grant on empty history, got %s", first.Action)
	}

	second, err := svc.EnsureAccess(ctx, nil, 1, "achievement", 72*time.Hour, "a2")
	if err != nil {
		t.Fatalf("second EnsureAccess: %v", err)
	}
	if second.Action != domain.AccessActionExtend {
		t.Fatalf("expected extend on active window, got %s", second.Action)
	}
	if want := first.ExpiresAt.Add(72 * time.Hour); !second.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, second.ExpiresAt)
	}
}

func TestRevokeAccessClosesWindow(t *testing.T) {
	svc, _, access := newTestService(1)
	ctx := context.Background()

	if _, err := svc.GrantAccess(ctx, nil, 1, "redeem", 24*time.Hour, "g1"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	revoked, err := svc.RevokeAccess(ctx, nil, 1, "admin", "r1")
	if err != nil {
		t.Fatalf("RevokeAccess: %v", err)
	}
	if revoked.Action != domain.AccessActionRevoke {
		t.Fatalf("expected revoke action, got %s", revoked.Action)
	}
	if revoked.Active {
		t.Fatalf("revoke row must not be active")
	}

	active, err := svc.ActiveGrant(ctx, nil, 1)
	if err != nil {
		t.Fatalf("ActiveGrant: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active window after revoke, got %+v", active)
	}
	if len(access.grants) != 2 {
		t.Fatalf("expected grant and revoke rows, got %d", len(access.grants))
	}
}

func TestRevokeAccessWithoutWindow(t *testing.T) {
	svc, _, _ := newTestService(1)

	_, err := svc.RevokeAccess(context.Background(), nil, 1, "admin", "r1")
	if errors.CodeOf(err) != errors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExpireDueGrants(t *testing.T) {
	svc, _, _ := newTestService(1, 2)
	ctx := context.Background()

	if _, err := svc.GrantAccess(ctx, nil, 1, "redeem", time.Hour, "g1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := svc.GrantAccess(ctx, nil, 2, "redeem", 48*time.Hour, "g2"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	expired, err := svc.ExpireDueGrants(ctx, nil, time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ExpireDueGrants: %v", err)
	}
	if len(expired) != 1 || expired[0].UserID != 1 {
		t.Fatalf("expected only user 1 to expire, got %+v", expired)
	}

	stillActive, err := svc.ActiveGrant(ctx, nil, 2)
	if err != nil {
		t.Fatalf("ActiveGrant: %v", err)
	}
	if stillActive == nil {
		t.Fatalf("user 2's window expired early")
	}
}
