package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	values := map[string]string{
		EnvGoogleAPIKey:    "g-test",
		EnvAnthropicAPIKey: "sk-ant-test",
	}

	if err := EncryptSecretsFile(dir, "pw-12345", values); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, SecretsDir, secretsFileName))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %04o", info.Mode().Perm())
	}

	got, err := DecryptSecretsFile(dir, "pw-12345")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	for k, v := range values {
		if got[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, got[k])
		}
	}
}

func TestDecryptWithWrongPassword(t *testing.T) {
	dir := t.TempDir()
	if err := EncryptSecretsFile(dir, "right", map[string]string{"A": "1"}); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptSecretsFile(dir, "wrong"); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestLoadSecretsMissingFileIsNoop(t *testing.T) {
	SetDecryptedSecrets(nil)
	if err := LoadSecrets(t.TempDir(), "pw"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(SecretNames()) != 0 {
		t.Fatal("expected no secrets loaded")
	}
}

func TestSaveSecretsToFile(t *testing.T) {
	dir := t.TempDir()
	SetDecryptedSecrets(nil)
	SetSecret(EnvOpenAIAPIKey, "sk-openai")
	t.Cleanup(func() { SetDecryptedSecrets(nil) })

	if err := SaveSecretsToFile(dir, "pw"); err != nil {
		t.Fatalf("save: %v", err)
	}
	DeleteSecret(EnvOpenAIAPIKey)
	if err := LoadSecrets(dir, "pw"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if v, err := GetSecret(EnvOpenAIAPIKey); err != nil || v != "sk-openai" {
		t.Fatalf("expected sk-openai, got %q (%v)", v, err)
	}
}
