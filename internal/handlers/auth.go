package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"archived/internal/models"
)

const apiKeyPrefixLen = 11 // "ak_" + 8 hex chars

// RequireAPIKey validates the X-API-Key header against stored bcrypt
// hashes. When no active key exists yet, requests pass through so the
// first key can be created.
func RequireAPIKey(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var activeKeys int64
		if err := db.Model(&models.ApiKey{}).Where("is_active = ?", true).Count(&activeKeys).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "auth check failed"})
			c.Abort()
			return
		}
		if activeKeys == 0 {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if len(apiKey) < apiKeyPrefixLen {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "X-API-Key header required"})
			c.Abort()
			return
		}

		var dbKey models.ApiKey
		err := db.Where("key_prefix = ? AND is_active = ?", apiKey[:apiKeyPrefixLen], true).First(&dbKey).Error
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(dbKey.KeyHash), []byte(apiKey)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}

		now := time.Now()
		db.Model(&dbKey).Update("last_used_at", &now)
		c.Set("api_key", &dbKey)
		c.Next()
	}
}

// GenerateAPIKey creates and stores a new key, returning the plaintext.
// The plaintext is shown exactly once; only its hash is persisted.
func GenerateAPIKey(db *gorm.DB, name string) (string, error) {
	randomBytes := make([]byte, 20)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	fullKey := "ak_" + hex.EncodeToString(randomBytes)

	keyHash, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	key := models.ApiKey{
		Name:      name,
		KeyHash:   string(keyHash),
		KeyPrefix: fullKey[:apiKeyPrefixLen],
		IsActive:  true,
	}
	if err := db.Create(&key).Error; err != nil {
		return "", fmt.Errorf("failed to store API key: %w", err)
	}
	return fullKey, nil
}
