// Package auth supplies bearer credentials for adaptors that talk to
// authenticated endpoints.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
)

// Endpoint property keys understood by FromProperties.
const (
	PropType          = "auth.type"
	PropToken         = "auth.token"
	PropTokenURL      = "auth.token_url"
	PropClientID      = "auth.client_id"
	PropClientSecret  = "auth.client_secret"
	PropUsername      = "auth.username"
	PropPassword      = "auth.password"
	PropScopes        = "auth.scopes"
	PropRefreshBefore = "auth.refresh_before"
)

// Credential types.
const (
	TypeStatic            = "static"
	TypeClientCredentials = "client_credentials"
	TypePassword          = "password"
)

const defaultRefreshBefore = 30 * time.Second

// Provider obtains the token sent as "Authorization: Bearer <token>".
type Provider interface {
	Token(ctx context.Context) (string, error)
	Close() error
}

// Header returns the Authorization header value for p.
func Header(ctx context.Context, p Provider) (string, error) {
	token, err := p.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("auth token: %w", err)
	}
	return "Bearer " + token, nil
}

// FromProperties builds the provider described by the auth.* endpoint
// properties. It returns nil when auth.type is not set.
func FromProperties(props adaptor.Properties) (Provider, error) {
	kind := strings.ToLower(props.String(PropType, ""))
	switch kind {
	case "":
		return nil, nil
	case TypeStatic:
		token := props.String(PropToken, "")
		if token == "" {
			return nil, fmt.Errorf("property %s is required for auth type %s", PropToken, kind)
		}
		return NewStatic(token), nil
	case TypeClientCredentials, TypePassword:
	default:
		return nil, fmt.Errorf("unsupported auth type %q (want %s, %s or %s)", kind, TypeStatic, TypeClientCredentials, TypePassword)
	}

	refresh, err := props.Duration(PropRefreshBefore, defaultRefreshBefore)
	if err != nil {
		return nil, err
	}
	cfg := OAuth2Config{
		Grant:         kind,
		TokenURL:      props.String(PropTokenURL, ""),
		ClientID:      props.String(PropClientID, ""),
		ClientSecret:  props.String(PropClientSecret, ""),
		Username:      props.String(PropUsername, ""),
		Password:      props.String(PropPassword, ""),
		Scopes:        splitScopes(props.String(PropScopes, "")),
		RefreshBefore: refresh,
	}
	return NewOAuth2(cfg)
}

func splitScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
