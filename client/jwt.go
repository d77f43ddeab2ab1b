package client

import (
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// claims of the bearer token presented to the document server
type ByJwt struct {
	UserId   string
	ClientId string
	Name     string
	// collections the token may access. Empty means all.
	Collections []string
}

// the token is verified by the server. The client only reads claims for display and logging.
func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("Unexpected claims %T", token.Claims)
	}

	byJwt := &ByJwt{}

	if userId, ok := claims["user_id"].(string); ok {
		byJwt.UserId = userId
	} else if sub, err := claims.GetSubject(); err == nil {
		byJwt.UserId = sub
	}
	if clientId, ok := claims["client_id"].(string); ok {
		byJwt.ClientId = clientId
	}
	if name, ok := claims["name"].(string); ok {
		byJwt.Name = name
	}
	if collections, ok := claims["collections"].([]any); ok {
		for _, collection := range collections {
			if c, ok := collection.(string); ok {
				byJwt.Collections = append(byJwt.Collections, c)
			}
		}
	}

	return byJwt, nil
}

type ClientAuth struct {
	ByJwt      string
	InstanceId Id
	AppVersion string
}

func (self *ClientAuth) ClientId() (string, error) {
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil {
		return "", err
	}
	return byJwt.ClientId, nil
}
