package petsync

import (
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Identity supplies the current profile id and the auth token for the
// gateway. The engine treats the profile id as an opaque string.
type Identity interface {
	ProfileId() string
	ByJwt() string
}

// ByJwt is the claim set carried by a pawmatch auth token.
type ByJwt struct {
	ProfileId   string
	DisplayName string
}

func MintByJwt(secret []byte, byJwt *ByJwt) (string, error) {
	claims := gojwt.MapClaims{
		"profile_id":   byJwt.ProfileId,
		"display_name": byJwt.DisplayName,
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func ParseByJwt(secret []byte, jwtStr string) (*ByJwt, error) {
	token, err := gojwt.Parse(jwtStr, func(token *gojwt.Token) (any, error) {
		if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	return byJwtFromClaims(token.Claims.(gojwt.MapClaims))
}

func ParseByJwtUnverified(jwtStr string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwtStr, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}
	return byJwtFromClaims(token.Claims.(gojwt.MapClaims))
}

func byJwtFromClaims(claims gojwt.MapClaims) (*ByJwt, error) {
	byJwt := &ByJwt{}
	if profileId, ok := claims["profile_id"].(string); ok {
		byJwt.ProfileId = profileId
	}
	if byJwt.ProfileId == "" {
		return nil, fmt.Errorf("token missing profile_id")
	}
	if displayName, ok := claims["display_name"].(string); ok {
		byJwt.DisplayName = displayName
	}
	return byJwt, nil
}

// JwtIdentity is the jwt-backed Identity.
type JwtIdentity struct {
	byJwt  string
	parsed *ByJwt
}

func NewJwtIdentity(byJwt string) (*JwtIdentity, error) {
	parsed, err := ParseByJwtUnverified(byJwt)
	if err != nil {
		return nil, err
	}
	return &JwtIdentity{
		byJwt:  byJwt,
		parsed: parsed,
	}, nil
}

func (self *JwtIdentity) ProfileId() string {
	return self.parsed.ProfileId
}

func (self *JwtIdentity) DisplayName() string {
	return self.parsed.DisplayName
}

func (self *JwtIdentity) ByJwt() string {
	return self.byJwt
}
