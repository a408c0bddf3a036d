package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// expiryMargin is how much remaining lifetime a cached credential must have
// before it is considered stale and re-exchanged.
const expiryMargin = 300 * time.Second

// TokenError marks a failed token exchange. It is a per-mailbox failure: the
// caller records it and moves on to the next mailbox.
type TokenError struct {
	Login string
	Err   error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token exchange for %s: %v", e.Login, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// Credential is a short-lived mail-access token scoped to one mailbox.
type Credential struct {
	Login     string
	Token     string
	ExpiresAt time.Time
}

func (c Credential) valid(now time.Time) bool {
	return c.Token != "" && now.Add(expiryMargin).Before(c.ExpiresAt)
}

// Broker exchanges mailbox logins for short-lived credentials and caches them
// per login. Multiple mailbox workers call Get concurrently; the cache is the
// only shared state and is guarded by one mutex, keyed per login so contention
// stays negligible.
type Broker struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Log          *slog.Logger

	// Attempts bounds the exchange retries before a TokenError surfaces.
	Attempts  int
	RetryBase time.Duration

	mu    sync.Mutex
	cache map[string]Credential
	now   func() time.Time
}

// NewBroker returns a broker with the default retry budget.
func NewBroker(tokenURL, clientID, clientSecret string, log *slog.Logger) *Broker {
	return &Broker{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		Log:          log,
		Attempts:     3,
		RetryBase:    time.Second,
		cache:        map[string]Credential{},
		now:          time.Now,
	}
}

// Get returns a cached credential when its remaining lifetime exceeds the
// safety margin, otherwise performs a token exchange with the mailbox login
// as subject and caches the result.
func (b *Broker) Get(ctx context.Context, login string) (Credential, error) {
	b.mu.Lock()
	if cred, ok := b.cache[login]; ok && cred.valid(b.now()) {
		b.mu.Unlock()
		return cred, nil
	}
	b.mu.Unlock()

	cred, err := b.exchange(ctx, login)
	if err != nil {
		return Credential{}, &TokenError{Login: login, Err: err}
	}

	b.mu.Lock()
	b.cache[login] = cred
	b.mu.Unlock()

	b.Log.Debug("token exchanged", "login", login, "expires_at", cred.ExpiresAt)
	return cred, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (b *Broker) exchange(ctx context.Context, login string) (Credential, error) {
	form := url.Values{
		"grant_type":         {"urn:ietf:params:oauth:grant-type:token-exchange"},
		"client_id":          {b.ClientID},
		"client_secret":      {b.ClientSecret},
		"subject_token":      {login},
		"subject_token_type": {"urn:yandex:params:oauth:token-type:email"},
	}

	var lastErr error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		if attempt > 1 {
			delay := b.RetryBase * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return Credential{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		cred, err := b.post(ctx, login, form)
		if err == nil {
			return cred, nil
		}
		lastErr = err
		b.Log.Debug("token exchange attempt failed", "login", login, "attempt", attempt, "error", err)
	}

	return Credential{}, errors.Wrapf(lastErr, "after %d attempts", b.Attempts)
}

func (b *Broker) post(ctx context.Context, login string, form url.Values) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return Credential{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Credential{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Credential{}, errors.Wrap(err, "decode token response")
	}
	if tr.AccessToken == "" {
		return Credential{}, errors.New("empty access token in response")
	}

	return Credential{
		Login:     login,
		Token:     tr.AccessToken,
		ExpiresAt: b.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
