// Package auth stores the API key used against the remote table.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	credFileName = "credentials.json"
	// EnvToken overrides the stored key.
	EnvToken = "QUICKLIST_TOKEN"
)

type Credentials struct {
	Key       string     `json:"key"`
	URL       string     `json:"url,omitempty"`
	Source    string     `json:"source"`     // "env" | "file"
	CreatedAt time.Time  `json:"created_at"` // when we saved to file
	ExpiresAt *time.Time `json:"expires_at"` // from the key's exp claim when it is a JWT
}

// Expired reports whether the key carries an expiry that has passed.
func (c *Credentials) Expired(now time.Time) bool {
	return c != nil && c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

func credsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home: %w", err)
	}
	return filepath.Join(home, ".quicklist"), nil
}

// Path returns the credentials file location.
func Path() (string, error) {
	dir, err := credsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, credFileName), nil
}

// Load returns the env override, else the stored credentials. Nil, nil
// means not logged in.
func Load() (*Credentials, error) {
	env := strings.TrimSpace(os.Getenv(EnvToken))
	if env != "" {
		key := stripBearer(env)
		return &Credentials{Key: key, Source: "env", ExpiresAt: jwtExpiry(key)}, nil
	}

	p, err := Path()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	c.Key = stripBearer(c.Key)
	c.Source = "file"
	return &c, nil
}

// Save writes key (and the project URL when given) owner-only.
func Save(key, url string) (*Credentials, error) {
	key = stripBearer(strings.TrimSpace(key))
	if key == "" {
		return nil, fmt.Errorf("empty key")
	}
	dir, err := credsDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	c := &Credentials{
		Key:       key,
		URL:       strings.TrimSpace(url),
		Source:    "file",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: jwtExpiry(key),
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, credFileName), b, 0o600); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	return c, nil
}

// Delete removes the stored credentials. Missing file is not an error.
func Delete() error {
	p, err := Path()
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

func stripBearer(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return strings.TrimSpace(s[7:])
	}
	return s
}

// Claims decodes the payload of a JWT without verifying its signature.
func Claims(token string) (json.RawMessage, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("not a JWT")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("claims are not JSON")
	}
	return raw, nil
}

// jwtExpiry reads the exp claim. Keys that are not JWTs have no expiry.
func jwtExpiry(token string) *time.Time {
	raw, err := Claims(token)
	if err != nil {
		return nil
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(raw, &claims); err != nil || claims.Exp == 0 {
		return nil
	}
	exp := time.Unix(claims.Exp, 0).UTC()
	return &exp
}

// Mask shows the first and last few characters of a key.
func Mask(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:6] + "…" + key[len(key)-4:]
}
