package clients

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

func (o OAuthConfig) Enabled() bool {
	return o.TokenURL != ""
}

// NewHTTPClient returns the client used for analysis service calls. Per-call deadlines come
// from the request context, so the client itself has no timeout.
func NewHTTPClient(ctx context.Context, oauth OAuthConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	base := &http.Client{Transport: transport}

	if !oauth.Enabled() {
		return base
	}

	cc := clientcredentials.Config{
		ClientID:     oauth.ClientID,
		ClientSecret: oauth.ClientSecret,
		TokenURL:     oauth.TokenURL,
	}
	// The token source keeps working after a shutdown signal cancels ctx.
	ctx = context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	return cc.Client(ctx)
}
