package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"vaalbara/backend/internal/domain"
	"vaalbara/backend/internal/store/memory"
)

func TestLoginAndParseToken(t *testing.T) {
	auth := NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, memory.New())

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("role = %s, want admin", resp.Role)
	}
	if resp.AccessToken == "" {
		t.Fatal("empty access token")
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, memory.New())

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "wrong"}); err == nil {
		t.Fatal("expected error for wrong password")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "nobody", Password: "admin123"}); err == nil {
		t.Fatal("expected error for unknown user")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: ""}); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	issuer := NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, memory.New())
	verifier := NewAuthManager("a-completely-different-secret-value", time.Hour, memory.New())

	resp, err := issuer.Login(domain.LoginRequest{Username: "staff", Password: "staff123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected foreign token to be rejected")
	}
	if _, err := issuer.ParseToken("not.a.token"); err == nil {
		t.Fatal("expected malformed token to be rejected")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	auth := NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, memory.New())

	token, err := auth.sign("staff", domain.RoleStaff, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestCreateAccountValidation(t *testing.T) {
	auth := NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, memory.New())

	cases := []struct {
		name string
		req  domain.UserCreateRequest
	}{
		{"short username", domain.UserCreateRequest{Username: "ab", Password: "secret123", Role: domain.RoleStaff}},
		{"username with space", domain.UserCreateRequest{Username: "new user", Password: "secret123", Role: domain.RoleStaff}},
		{"short password", domain.UserCreateRequest{Username: "newuser", Password: "abc", Role: domain.RoleStaff}},
		{"unknown role", domain.UserCreateRequest{Username: "newuser", Password: "secret123", Role: "superuser"}},
		{"duplicate", domain.UserCreateRequest{Username: "admin", Password: "secret123", Role: domain.RoleStaff}},
	}
	for _, tc := range cases {
		if _, err := auth.CreateAccount(tc.req); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}

	created, err := auth.CreateAccount(domain.UserCreateRequest{Username: "Cashier1", Password: "secret123", Role: domain.RoleStaff})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if created.Username != "cashier1" {
		t.Fatalf("username = %s, want lowercased cashier1", created.Username)
	}

	// The new account can log in right away.
	if _, err := auth.Login(domain.LoginRequest{Username: "cashier1", Password: "secret123"}); err != nil {
		t.Fatalf("login as new account: %v", err)
	}
}

func TestListAccountsSorted(t *testing.T) {
	auth := NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, memory.New())

	accounts := auth.ListAccounts()
	if len(accounts) != 3 {
		t.Fatalf("got %d accounts, want 3 seeded", len(accounts))
	}
	for i := 1; i < len(accounts); i++ {
		if strings.Compare(accounts[i-1].Username, accounts[i].Username) > 0 {
			t.Fatalf("accounts not sorted: %s before %s", accounts[i-1].Username, accounts[i].Username)
		}
	}
}

func TestPlaintextPasswordsUpgradedOnBootstrap(t *testing.T) {
	repo := memory.New()
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username: "legacy",
		Password: "legacy-pass",
		Role:     domain.RoleStaff,
		Active:   true,
	}); err != nil {
		t.Fatalf("seed legacy user: %v", err)
	}

	auth := NewAuthManager("unit-test-secret-0123456789abcdef", time.Hour, repo)
	if _, err := auth.Login(domain.LoginRequest{Username: "legacy", Password: "legacy-pass"}); err != nil {
		t.Fatalf("login with legacy password: %v", err)
	}

	stored, err := repo.GetUserByUsername(context.Background(), "legacy")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !isPasswordHash(stored.Password) {
		t.Fatal("stored password was not upgraded to a hash")
	}
}
