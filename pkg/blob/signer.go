package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"transcript-orchestrator/pkg/clock"
	"transcript-orchestrator/pkg/models"
)

// Issuer mints temporary read-only URLs for stored assets. Each call
// is independent: a fresh token over (container, name, window) signed
// with the shared storage key. The not-before bound is backdated by
// SkewGrace so a consumer whose clock runs slightly ahead of ours does
// not reject the URL as not-yet-valid.
type Issuer struct {
	store     Store
	baseURL   string
	container string
	key       []byte
	validity  time.Duration
	skewGrace time.Duration
	clk       clock.Clock
}

func NewIssuer(store Store, baseURL, container string, key []byte, validity, skewGrace time.Duration, clk clock.Clock) *Issuer {
	return &Issuer{
		store:     store,
		baseURL:   baseURL,
		container: container,
		key:       key,
		validity:  validity,
		skewGrace: skewGrace,
		clk:       clk,
	}
}

// Issue returns a signed read URL for the named asset, valid in
// [now-skewGrace, now+validity]. Returns ErrAssetNotFound if the asset
// does not exist.
func (i *Issuer) Issue(ctx context.Context, name string) (*models.SignedURL, error) {
	if _, err := i.store.Stat(ctx, name); err != nil {
		return nil, err
	}

	now := i.clk.Now()
	notBefore := now.Add(-i.skewGrace)
	expires := now.Add(i.validity)

	q := url.Values{}
	q.Set("sp", "r")
	q.Set("st", strconv.FormatInt(notBefore.Unix(), 10))
	q.Set("se", strconv.FormatInt(expires.Unix(), 10))
	q.Set("sig", i.sign(name, notBefore, expires))

	return &models.SignedURL{
		URL:       fmt.Sprintf("%s/%s/%s?%s", i.baseURL, i.container, url.PathEscape(name), q.Encode()),
		NotBefore: notBefore,
		ExpiresAt: expires,
	}, nil
}

// Verify checks a token produced by Issue: the signature must match
// the asset name and window (constant-time compare), and the current
// time must fall within [notBefore, expires].
func (i *Issuer) Verify(name string, notBefore, expires time.Time, sig string) bool {
	want := i.sign(name, notBefore, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return false
	}
	now := i.clk.Now()
	return !now.Before(notBefore) && now.Before(expires)
}

func (i *Issuer) sign(name string, notBefore, expires time.Time) string {
	mac := hmac.New(sha256.New, i.key)
	fmt.Fprintf(mac, "r\n%s\n%s\n%d\n%d", i.container, name, notBefore.Unix(), expires.Unix())
	return hex.EncodeToString(mac.Sum(nil))
}
