package secret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/jmcleod/bankgate/internal/breaker"
	"github.com/sony/gobreaker"
)

const (
	DefaultVaultItemName = "Bunq API Key"
	DefaultVaultTimeout  = 10 * time.Second
	DefaultVaultAttempts = 3

	loginItemType    = 1
	maxVaultResponse = 4 << 20
)

type VaultConfig struct {
	URL          string
	ClientID     string
	ClientSecret string
	ItemName     string
	Timeout      time.Duration
	Attempts     int
	// Backoff is the delay before the second attempt; it doubles after that.
	Backoff    time.Duration
	HTTPClient *http.Client
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *slog.Logger
}

// VaultSource reads the API key from a Vaultwarden (Bitwarden-compatible)
// server using the client-credentials grant. The client secret is kept
// sealed alongside the fetched value.
type VaultSource struct {
	cfg          VaultConfig
	base         *url.URL
	clientSecret *memguard.Enclave
	client       *http.Client
	cb           *gobreaker.CircuitBreaker
}

func NewVaultSource(cfg VaultConfig) (*VaultSource, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid vault url %q", cfg.URL)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("vault client id and secret are required")
	}
	if cfg.ItemName == "" {
		cfg.ItemName = DefaultVaultItemName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultVaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultVaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	v := &VaultSource{
		cfg:          cfg,
		base:         base,
		clientSecret: memguard.NewEnclave([]byte(cfg.ClientSecret)),
		client:       client,
	}
	v.cfg.ClientSecret = ""
	v.cb = breaker.New("vault", cfg.Logger, func(err error) bool {
		return err == nil || errors.Is(err, ErrVaultItemNotFound) || errors.Is(err, ErrVaultAuth)
	})
	return v, nil
}

func (v *VaultSource) Name() string   { return "vault" }
func (v *VaultSource) Origin() Origin { return OriginVault }

// BreakerState exposes the circuit state for metrics.
func (v *VaultSource) BreakerState() gobreaker.State { return v.cb.State() }

// Fetch authenticates and looks up the configured login item. While the
// breaker is open it fails immediately so the resolver moves on to the
// fallback.
func (v *VaultSource) Fetch(ctx context.Context) ([]byte, error) {
	out, err := v.cb.Execute(func() (interface{}, error) {
		return v.fetchWithRetry(ctx)
	})
	if err != nil {
		if breaker.Rejected(err) {
			return nil, fmt.Errorf("%w: circuit open", ErrVaultUnavailable)
		}
		return nil, err
	}
	return out.([]byte), nil
}

func (v *VaultSource) fetchWithRetry(ctx context.Context) ([]byte, error) {
	var lastErr error
	delay := v.cfg.Backoff
	for attempt := 1; attempt <= v.cfg.Attempts; attempt++ {
		value, err := v.fetchOnce(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil || attempt == v.cfg.Attempts {
			break
		}
		if err := v.cfg.Sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, lastErr
}

func retryable(err error) bool {
	return errors.Is(err, ErrVaultUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

func (v *VaultSource) fetchOnce(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	token, err := v.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return v.lookupItem(ctx, token)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (v *VaultSource) accessToken(ctx context.Context) (string, error) {
	buf, err := v.clientSecret.Open()
	if err != nil {
		return "", fmt.Errorf("opening vault client secret: %w", err)
	}
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"scope":         {"api"},
		"client_id":     {v.cfg.ClientID},
		"client_secret": {buf.String()},
	}
	body := form.Encode()
	buf.Destroy()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint("/identity/connect/token"), strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building vault token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var tok tokenResponse
	if err := v.do(req, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrVaultMalformed)
	}
	return tok.AccessToken, nil
}

type cipherList struct {
	Data []struct {
		Name  string `json:"name"`
		Type  int    `json:"type"`
		Login *struct {
			Password string `json:"password"`
		} `json:"login"`
	} `json:"data"`
}

func (v *VaultSource) lookupItem(ctx context.Context, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint("/api/ciphers"), nil)
	if err != nil {
		return nil, fmt.Errorf("building vault item request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	var list cipherList
	if err := v.do(req, &list); err != nil {
		return nil, err
	}
	for _, item := range list.Data {
		if item.Name != v.cfg.ItemName || item.Type != loginItemType {
			continue
		}
		if item.Login == nil || item.Login.Password == "" {
			return nil, fmt.Errorf("%w: item has no password", ErrVaultMalformed)
		}
		return []byte(item.Login.Password), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrVaultItemNotFound, v.cfg.ItemName)
}

// do sends req and decodes a JSON body into out. Status codes map onto the
// vault error classes; response bodies are never included in errors.
func (v *VaultSource) do(req *http.Request, out any) error {
	resp, err := v.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %w", ErrVaultUnavailable, req.URL.Path, context.DeadlineExceeded)
		}
		return fmt.Errorf("%w: %s: transport error", ErrVaultUnavailable, req.URL.Path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s: status %d", ErrVaultAuth, req.URL.Path, resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: status %d", ErrVaultUnavailable, req.URL.Path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %s: status %d", ErrVaultMalformed, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxVaultResponse)).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decoding body", ErrVaultMalformed, req.URL.Path)
	}
	return nil
}

func (v *VaultSource) endpoint(path string) string {
	u := *v.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
