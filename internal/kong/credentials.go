package kong

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"

	"auth-service/internal/models"

	"github.com/google/uuid"
)

// GenerateSecureSecret returns 32 cryptographically random bytes as 64
// lowercase hex characters.
func GenerateSecureSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// GenerateJWTKey returns a UUIDv4 with the hyphens stripped: 32 hex chars.
func GenerateJWTKey() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// ExtractConsumerSecret validates a credential-list response body. It
// returns the first credential when the listing is well formed and every
// required field is present, nil otherwise.
func ExtractConsumerSecret(body []byte) *models.ConsumerSecret {
	var listing models.CredentialList
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil
	}
	if len(listing.Data) == 0 {
		return nil
	}
	secret := listing.Data[0]
	if secret.Validate() != nil {
		return nil
	}
	return &secret
}
