package kong

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

func TestGenerateSecureSecret(t *testing.T) {
	secret := GenerateSecureSecret()
	assert.Len(t, secret, 64)
	assert.Regexp(t, hexPattern, secret)

	assert.NotEqual(t, secret, GenerateSecureSecret())
}

func TestGenerateJWTKey(t *testing.T) {
	key := GenerateJWTKey()
	assert.Len(t, key, 32)
	assert.Regexp(t, hexPattern, key)
	assert.NotContains(t, key, "-")

	assert.NotEqual(t, key, GenerateJWTKey())
}

func TestExtractConsumerSecret(t *testing.T) {
	body := []byte(`{"data":[{"id":"j1","key":"k1","secret":"s1","consumer":{"id":"c1"}}],"total":1}`)
	secret := ExtractConsumerSecret(body)
	require.NotNil(t, secret)
	assert.Equal(t, "j1", secret.ID)
	assert.Equal(t, "k1", secret.Key)
	assert.Equal(t, "s1", secret.Secret)
	assert.Equal(t, "c1", secret.Consumer.ID)
}

func TestExtractConsumerSecretTakesFirst(t *testing.T) {
	body := []byte(`{"data":[
		{"id":"j1","key":"k1","secret":"s1","consumer":{"id":"c1"}},
		{"id":"j2","key":"k2","secret":"s2","consumer":{"id":"c1"}}
	],"total":2}`)
	secret := ExtractConsumerSecret(body)
	require.NotNil(t, secret)
	assert.Equal(t, "j1", secret.ID)
}

func TestExtractConsumerSecretRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty list":     `{"data":[],"total":0}`,
		"missing secret": `{"data":[{"id":"j1","key":"k1","consumer":{"id":"c1"}}]}`,
		"missing owner":  `{"data":[{"id":"j1","key":"k1","secret":"s1"}]}`,
		"not json":       `<html>502</html>`,
		"wrong shape":    `{"data":"nope"}`,
	}
	for name, body := range cases {
		assert.Nil(t, ExtractConsumerSecret([]byte(body)), name)
	}
}
