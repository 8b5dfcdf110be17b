package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	tok, err := SignJWT("owner-1", "s3cret", AudienceAPI, time.Hour)
	require.NoError(t, err)

	sub, err := ParseJWT(tok, "s3cret", AudienceAPI)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", sub)
}

func TestParse_Rejects(t *testing.T) {
	good, err := SignJWT("owner-1", "s3cret", AudienceAPI, time.Hour)
	require.NoError(t, err)
	expired, err := SignJWT("owner-1", "s3cret", AudienceAPI, -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "owner-1",
		Audience:  jwt.ClaimStrings{AudienceAPI},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]struct {
		token, secret, aud string
	}{
		"wrong secret":   {good, "other", AudienceAPI},
		"wrong audience": {good, "s3cret", AudienceUpload},
		"expired":        {expired, "s3cret", AudienceAPI},
		"alg none":       {none, "s3cret", AudienceAPI},
		"garbage":        {"not.a.jwt", "s3cret", AudienceAPI},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJWT(tc.token, tc.secret, tc.aud)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestSign_RequiresSecret(t *testing.T) {
	_, err := SignJWT("x", " ", AudienceAPI, time.Hour)
	assert.Error(t, err)
}
