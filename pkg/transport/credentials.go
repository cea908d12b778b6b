package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthType names an authentication scheme.
type AuthType string

const (
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
)

// APIKeyHeader carries the key for AuthAPIKey.
const APIKeyHeader = "X-API-Key"

// Credentials authenticate requests against the ranking service.
type Credentials struct {
	Type     AuthType
	Username string
	Password string
	Token    string
	APIKey   string
}

// String never includes secrets.
func (c Credentials) String() string {
	switch c.Type {
	case AuthBasic:
		return fmt.Sprintf("basic(%s)", c.Username)
	default:
		return string(c.Type)
	}
}

// Validate checks that the fields required by Type are present.
func (c Credentials) Validate() error {
	switch c.Type {
	case AuthBasic:
		if c.Username == "" {
			return errors.New("basic auth requires a username")
		}
	case AuthBearer:
		if c.Token == "" {
			return errors.New("bearer auth requires a token")
		}
	case AuthAPIKey:
		if c.APIKey == "" {
			return errors.New("api key auth requires a key")
		}
	default:
		return fmt.Errorf("unsupported auth type: %q", c.Type)
	}
	return nil
}

func (c Credentials) apply(req *http.Request) {
	switch c.Type {
	case AuthBasic:
		req.SetBasicAuth(c.Username, c.Password)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case AuthAPIKey:
		req.Header.Set(APIKeyHeader, c.APIKey)
	}
}
