package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"

	"proxie/pkg/logx"
)

// Secrets file layout: [salt][nonce][ciphertext+tag], AES-256-GCM with a
// scrypt-derived key.
const (
	SecretsDir      = ".proxie"
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	scryptN         = 32768
	scryptR         = 8
	scryptP         = 1
	keySize         = 32
	gcmTagSize      = 16
)

//nolint:gochecknoglobals // decrypted secrets held in memory
var (
	secrets   map[string]string
	secretsMu sync.RWMutex
)

// SetDecryptedSecrets replaces the in-memory secrets.
func SetDecryptedSecrets(values map[string]string) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	secrets = values
}

// GetSecret returns name from the decrypted secrets, then the environment.
func GetSecret(name string) (string, error) {
	secretsMu.RLock()
	if v, ok := secrets[name]; ok && v != "" {
		secretsMu.RUnlock()
		return v, nil
	}
	secretsMu.RUnlock()

	if v := lookupEnv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// SecretNames lists the names held in memory, sorted.
func SecretNames() []string {
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetSecret stores a secret in memory.
func SetSecret(name, value string) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[name] = value
}

// DeleteSecret removes a secret from memory.
func DeleteSecret(name string) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	delete(secrets, name)
}

func secretsPath(dir string) string {
	return filepath.Join(dir, SecretsDir, secretsFileName)
}

// SecretsFileExists reports whether dir holds an encrypted secrets file.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(secretsPath(dir))
	return err == nil
}

// SaveSecretsToFile encrypts the in-memory secrets into dir.
func SaveSecretsToFile(dir, password string) error {
	secretsMu.RLock()
	snapshot := make(map[string]string, len(secrets))
	for k, v := range secrets {
		snapshot[k] = v
	}
	secretsMu.RUnlock()
	return EncryptSecretsFile(dir, password, snapshot)
}

func deriveKey(password, salt []byte) ([]byte, error) {
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptSecretsFile writes values to dir/.proxie/secrets.json.enc with mode 0600.
func EncryptSecretsFile(dir, password string, values map[string]string) error {
	pw := []byte(password)
	defer zero(pw)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := deriveKey(pw, salt)
	if err != nil {
		return err
	}
	defer zero(key)

	plaintext, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer zero(plaintext)

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	data := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	data = append(data, salt...)
	data = append(data, nonce...)
	data = append(data, ciphertext...)

	if err := os.MkdirAll(filepath.Join(dir, SecretsDir), 0700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(secretsPath(dir), data, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile reads and decrypts dir/.proxie/secrets.json.enc.
func DecryptSecretsFile(dir, password string) (map[string]string, error) {
	path := secretsPath(dir)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if info.Mode().Perm() != 0600 {
		logx.NewLogger("config").Warn("⚠️  Secrets file %s had mode %04o, resetting to 0600", path, info.Mode().Perm())
		if err := os.Chmod(path, 0600); err != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(data) < saltSize+nonceSize+gcmTagSize {
		return nil, fmt.Errorf("secrets file is corrupted (too small)")
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	ciphertext := data[saltSize+nonceSize:]

	pw := []byte(password)
	defer zero(pw)
	key, err := deriveKey(pw, salt)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted file)")
	}
	defer zero(plaintext)

	var values map[string]string
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return values, nil
}

// LoadSecrets decrypts dir's secrets file into memory when it exists.
func LoadSecrets(dir, password string) error {
	if !SecretsFileExists(dir) {
		return nil
	}
	values, err := DecryptSecretsFile(dir, password)
	if err != nil {
		return err
	}
	SetDecryptedSecrets(values)
	return nil
}
