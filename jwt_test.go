package petsync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestByJwtRoundTrip(t *testing.T) {
	secret := []byte("test-secret")

	jwtStr, err := MintByJwt(secret, &ByJwt{
		ProfileId:   "alice",
		DisplayName: "Alice",
	})
	assert.Equal(t, nil, err)

	byJwt, err := ParseByJwt(secret, jwtStr)
	assert.Equal(t, nil, err)
	assert.Equal(t, "alice", byJwt.ProfileId)
	assert.Equal(t, "Alice", byJwt.DisplayName)
}

func TestByJwtWrongSecret(t *testing.T) {
	jwtStr, err := MintByJwt([]byte("right"), &ByJwt{ProfileId: "alice"})
	assert.Equal(t, nil, err)

	_, err = ParseByJwt([]byte("wrong"), jwtStr)
	assert.NotEqual(t, err, nil)
}

func TestByJwtMissingProfileId(t *testing.T) {
	jwtStr, err := MintByJwt([]byte("secret"), &ByJwt{DisplayName: "nobody"})
	assert.Equal(t, nil, err)

	_, err = ParseByJwt([]byte("secret"), jwtStr)
	assert.NotEqual(t, err, nil)
}

func TestJwtIdentity(t *testing.T) {
	jwtStr, err := MintByJwt([]byte("secret"), &ByJwt{
		ProfileId:   "bob",
		DisplayName: "Bob",
	})
	assert.Equal(t, nil, err)

	identity, err := NewJwtIdentity(jwtStr)
	assert.Equal(t, nil, err)
	assert.Equal(t, "bob", identity.ProfileId())
	assert.Equal(t, "Bob", identity.DisplayName())
	assert.Equal(t, jwtStr, identity.ByJwt())

	_, err = NewJwtIdentity("not a token")
	assert.NotEqual(t, err, nil)
}
