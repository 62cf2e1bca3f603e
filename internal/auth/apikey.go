/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_live/internal/models"
)

const (
	APIKeyPrefix      = "ml_"
	APIKeyRandomBytes = 24 // 192 bits of entropy
)

// APIKeyExpirationOptions are the lifetimes a key may be created with.
var APIKeyExpirationOptions = []struct {
	Label string
	Days  int
}{
	{"30 days", 30},
	{"90 days", 90},
	{"180 days", 180},
	{"1 year", 365},
}

var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrAPIKeyExpired  = errors.New("api key expired")
	ErrAPIKeyRevoked  = errors.New("api key revoked")
	ErrUserNotFound   = errors.New("user not found")
)

// GenerateAPIKey mints a key for a user. The plaintext is returned once for
// display; only its sha256 hash goes into the model.
func GenerateAPIKey(userID, name string, expiresIn time.Duration) (string, *models.APIKey, error) {
	raw := make([]byte, APIKeyRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}

	plaintext := APIKeyPrefix + hex.EncodeToString(raw)
	digest := sha256.Sum256([]byte(plaintext))

	key := &models.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hex.EncodeToString(digest[:]),
		KeyPrefix: plaintext[:11], // "ml_" + first 8 hex chars, for listings
		ExpiresAt: time.Now().Add(expiresIn),
	}
	return plaintext, key, nil
}

// ValidateAPIKey resolves a presented key to claims, rejecting revoked and
// expired keys and suspended users. LastUsedAt is updated asynchronously.
func ValidateAPIKey(db *gorm.DB, plaintext string) (*Claims, error) {
	digest := sha256.Sum256([]byte(plaintext))

	var key models.APIKey
	err := db.Where("key_hash = ?", hex.EncodeToString(digest[:])).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	if key.IsRevoked() {
		return nil, ErrAPIKeyRevoked
	}
	if key.IsExpired() {
		return nil, ErrAPIKeyExpired
	}

	var user models.User
	err = db.First(&user, "id = ?", key.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if user.Suspended {
		return nil, errors.New("user account suspended")
	}

	now := time.Now()
	go db.Model(&key).Update("last_used_at", now)

	roles := []string{"user"}
	if user.Admin {
		roles = append(roles, "admin")
	}
	return &Claims{UserID: user.ID, Roles: roles}, nil
}

// RevokeAPIKey soft-deletes a key. Scoped to the owner so one user cannot
// revoke another's keys.
func RevokeAPIKey(db *gorm.DB, keyID, userID string) error {
	res := db.Model(&models.APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("revoked_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ListAPIKeys returns a user's keys, newest first.
func ListAPIKeys(db *gorm.DB, userID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}
