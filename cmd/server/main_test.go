package main

import (
	"testing"

	"vaalbara/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakProductionSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{Env: "production", AuthSecret: "short"})
	if err == nil {
		t.Fatal("expected weak production secret to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{Env: "production", AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigAllowsDevWithoutSecret(t *testing.T) {
	if err := validateSecurityConfig(config.Config{Env: "development"}); err != nil {
		t.Fatalf("dev config should pass, got %v", err)
	}
}
