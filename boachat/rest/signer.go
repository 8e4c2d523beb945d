package rest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/moduspwnens/boa-chat/boachat/credentials"
)

// APISettings fetches the signing region/service pair from the API root.
// The first successful result is cached for the lifetime of the client;
// failures are not cached.
func (c *Client) APISettings(ctx context.Context) (*SignatureSettings, error) {
	c.settingsMu.Lock()
	defer c.settingsMu.Unlock()

	if c.settings != nil {
		s := *c.settings
		return &s, nil
	}

	var resp APISettings
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "api"}, &resp); err != nil {
		return nil, err
	}
	c.settings = &resp.Signature
	s := resp.Signature
	return &s, nil
}

func (c *Client) sign(ctx context.Context, httpReq *http.Request, payload []byte, stored *credentials.Credentials) error {
	settings, err := c.APISettings(ctx)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(payload)
	awsCreds := aws.Credentials{
		AccessKeyID:     stored.AccessKeyID,
		SecretAccessKey: stored.SecretAccessKey,
		SessionToken:    stored.SessionToken,
	}
	if err := c.signer.SignHTTP(ctx, awsCreds, httpReq, hex.EncodeToString(sum[:]), settings.Service, settings.Region, c.now()); err != nil {
		return WrapError(KindOther, "sign request", err)
	}
	return nil
}
