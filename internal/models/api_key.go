package models

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ApiKey is a secret granting access as a tenant (spec §3, §4.1). The
// plaintext secret is never stored; KeyHash is a bcrypt hash (salted,
// constant-time verifiable). KeyPrefix is the first 8 characters of the
// plaintext secret and is indexed so the Credential Resolver can narrow
// its candidate set before hashing.
type ApiKey struct {
	NumericModel
	TenantID   int64      `gorm:"not null;index" json:"tenant_id"`
	KeyPrefix  string     `gorm:"size:8;not null;index" json:"key_prefix"`
	KeyHash    string     `gorm:"not null" json:"-"`
	IsActive   bool       `gorm:"default:true" json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

func (ApiKey) TableName() string { return "api_keys" }

const keySecretBytes = 24

// GenerateApiKeySecret returns a fresh plaintext secret (prefix + random
// body) and the bcrypt hash to persist for it. The caller shows the
// plaintext to the operator exactly once.
func GenerateApiKeySecret() (plaintext string, hash string, prefix string, err error) {
	buf := make([]byte, keySecretBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}
	body := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))
	plaintext = fmt.Sprintf("bg_%s", body)
	if len(plaintext) < 8 {
		return "", "", "", fmt.Errorf("generated secret shorter than key prefix length")
	}
	prefix = plaintext[:8]

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	return plaintext, string(hashed), prefix, nil
}

// VerifySecret performs the constant-time password-hash verification
// spec §4.1 requires. A malformed hash or mismatch both report false; the
// Credential Resolver treats either as "no match", not an error.
func VerifySecret(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
