package ingest

import "testing"

func TestTokenRegistry_IssueAndConsumeAtomic(t *testing.T) {
	r := NewTokenRegistry()

	token, err := r.Issue("wallet1", "plan-pro", 1024, "backup.tar")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claim, ok := r.ConsumeAtomic(token)
	if !ok {
		t.Fatalf("expected token to be consumable")
	}
	if claim.Wallet != "wallet1" || claim.PlanID != "plan-pro" || claim.EstBytes != 1024 {
		t.Fatalf("unexpected claim: %+v", claim)
	}
}

func TestTokenRegistry_ConsumeAtomicIsSingleUse(t *testing.T) {
	r := NewTokenRegistry()

	token, err := r.Issue("wallet1", "plan-pro", 0, "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, ok := r.ConsumeAtomic(token); !ok {
		t.Fatalf("expected first consume to succeed")
	}
	if _, ok := r.ConsumeAtomic(token); ok {
		t.Fatalf("expected second consume of the same token to fail")
	}
}

func TestTokenRegistry_ConsumeAtomicUnknownToken(t *testing.T) {
	r := NewTokenRegistry()

	if _, ok := r.ConsumeAtomic("does-not-exist"); ok {
		t.Fatalf("expected unknown token to be rejected")
	}
}
