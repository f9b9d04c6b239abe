package tokens

import (
	"errors"
	"testing"
	"time"

	"vaultkit.org/internal/vault"
)

func setSecret(t *testing.T) {
	t.Helper()
	t.Setenv(secretEnvVariable, "test-secret")
	resetSecretCache()
	t.Cleanup(resetSecretCache)
}

func ownerActor() vault.Actor {
	return vault.Actor{
		ID:     "owner-1",
		Type:   vault.ActorOwner,
		Planes: []vault.Plane{vault.PlanePII, vault.PlaneVault, vault.PlaneOps},
	}
}

func agentActor() vault.Actor {
	return vault.Actor{
		ID:        "agent-1",
		Type:      vault.ActorAgent,
		Planes:    []vault.Plane{vault.PlaneOps, vault.PlaneBroadcast},
		Principal: "owner-1",
		Model:     "summarizer-v2",
	}
}

func TestMintAndParseOwnerToken(t *testing.T) {
	setSecret(t)

	signed, err := Mint(ownerActor(), []vault.Plane{vault.PlaneVault, vault.PlaneOps}, time.Hour, MintOptions{})
	if err != nil {
		t.Fatal(err)
	}

	tok, err := ParseAndValidate(signed)
	if err != nil {
		t.Fatal(err)
	}
	if tok.ActorID != "owner-1" || tok.ActorType != vault.ActorOwner {
		t.Fatalf("unexpected identity: %+v", tok)
	}
	if !tok.HasPlane(vault.PlaneVault) || tok.HasPlane(vault.PlanePII) {
		t.Fatalf("unexpected plane set: %v", tok.Planes)
	}
	if tok.MaxUses != nil || tok.UsesRemaining != nil {
		t.Fatal("human token carries a use budget")
	}
}

func TestAgentTokenDefaultsToSingleUse(t *testing.T) {
	setSecret(t)

	signed, err := Mint(agentActor(), []vault.Plane{vault.PlaneOps}, time.Hour, MintOptions{})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := ParseAndValidate(signed)
	if err != nil {
		t.Fatal(err)
	}
	if tok.MaxUses == nil || *tok.MaxUses != 1 {
		t.Fatalf("max uses %v, want 1", tok.MaxUses)
	}
	if tok.UsesRemaining == nil || *tok.UsesRemaining != 1 {
		t.Fatalf("uses remaining %v, want 1", tok.UsesRemaining)
	}
	if tok.PrincipalID != "owner-1" {
		t.Fatalf("principal %q, want owner-1", tok.PrincipalID)
	}

	uses := 3
	signed, err = Mint(agentActor(), []vault.Plane{vault.PlaneOps}, time.Hour, MintOptions{Uses: &uses})
	if err != nil {
		t.Fatal(err)
	}
	tok, _ = ParseAndValidate(signed)
	if tok.MaxUses == nil || *tok.MaxUses != 3 {
		t.Fatalf("max uses %v, want 3", tok.MaxUses)
	}
}

func TestMintValidation(t *testing.T) {
	setSecret(t)

	if _, err := Mint(vault.Actor{}, []vault.Plane{vault.PlaneOps}, time.Hour, MintOptions{}); err == nil {
		t.Fatal("actor without id accepted")
	}
	if _, err := Mint(ownerActor(), nil, time.Hour, MintOptions{}); err == nil {
		t.Fatal("empty plane set accepted")
	}
	if _, err := Mint(ownerActor(), []vault.Plane{vault.PlaneOps}, 0, MintOptions{}); err == nil {
		t.Fatal("zero ttl accepted")
	}
	if _, err := Mint(ownerActor(), []vault.Plane{"sideband"}, time.Hour, MintOptions{}); err == nil {
		t.Fatal("unknown plane accepted")
	}
	// Owner holds pii/vault/ops but not broadcast.
	if _, err := Mint(ownerActor(), []vault.Plane{vault.PlaneBroadcast}, time.Hour, MintOptions{}); err == nil {
		t.Fatal("plane outside actor's set accepted")
	}

	orphan := agentActor()
	orphan.Principal = ""
	if _, err := Mint(orphan, []vault.Plane{vault.PlaneOps}, time.Hour, MintOptions{}); err == nil {
		t.Fatal("agent without principal accepted")
	}

	zero := 0
	if _, err := Mint(agentActor(), []vault.Plane{vault.PlaneOps}, time.Hour, MintOptions{Uses: &zero}); err == nil {
		t.Fatal("non-positive use budget accepted")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	setSecret(t)

	for _, bad := range []string{"", "  ", "not-a-jwt", "aaa.bbb.ccc"} {
		if _, err := ParseAndValidate(bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("input %q: expected ErrInvalidToken, got %v", bad, err)
		}
	}
}

func TestParseRejectsExpired(t *testing.T) {
	setSecret(t)

	signed, err := Mint(ownerActor(), []vault.Plane{vault.PlaneOps}, time.Millisecond, MintOptions{})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	setSecret(t)
	signed, err := Mint(ownerActor(), []vault.Plane{vault.PlaneOps}, time.Hour, MintOptions{})
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv(secretEnvVariable, "different-secret")
	resetSecretCache()
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken under rotated secret, got %v", err)
	}
}

func TestMintWithoutSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	resetSecretCache()
	t.Cleanup(resetSecretCache)

	if _, err := Mint(ownerActor(), []vault.Plane{vault.PlaneOps}, time.Hour, MintOptions{}); !errors.Is(err, errMissingSecret) {
		t.Fatalf("expected errMissingSecret, got %v", err)
	}
}
