package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// SignServiceToken mints an HS256 service token with the given subject,
// roles, and audience, expiring in one hour.
func SignServiceToken(t *testing.T, signingKey, subject, audience string, roles ...string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": subject,
		"aud": audience,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	if len(roles) > 0 {
		anyRoles := make([]any, len(roles))
		for i, r := range roles {
			anyRoles[i] = r
		}
		claims["roles"] = anyRoles
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingKey))
	require.NoError(t, err, "failed to sign test token")
	return signed
}
