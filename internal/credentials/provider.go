// Package credentials resolves the Google service-account key used to reach
// the roster spreadsheets. The key is resolved once at start-up and is never
// logged.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ErrNotConfigured means a provider has no credentials to offer. Chain moves
// on to the next provider when it sees it.
var ErrNotConfigured = errors.New("credentials not configured")

// Provider yields a service-account JSON key.
type Provider interface {
	Name() string
	Credentials(ctx context.Context) ([]byte, error)
}

// Static serves a key held in memory, typically the GOOGLE_SERVICE_ACCOUNT
// environment variable.
type Static struct {
	Source string
	JSON   string
}

func (s Static) Name() string { return s.Source }

func (s Static) Credentials(ctx context.Context) ([]byte, error) {
	if strings.TrimSpace(s.JSON) == "" {
		return nil, ErrNotConfigured
	}
	return validate([]byte(s.JSON), s.Source)
}

// File reads a key from disk.
type File struct {
	Path string
}

func (f File) Name() string { return "file:" + f.Path }

func (f File) Credentials(ctx context.Context) ([]byte, error) {
	if f.Path == "" {
		return nil, ErrNotConfigured
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return validate(b, f.Name())
}

// Chain returns the first credentials any provider yields.
type Chain []Provider

func (c Chain) Name() string {
	names := make([]string, 0, len(c))
	for _, p := range c {
		names = append(names, p.Name())
	}
	return strings.Join(names, ",")
}

func (c Chain) Credentials(ctx context.Context) ([]byte, error) {
	for _, p := range c {
		b, err := p.Credentials(ctx)
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
		return b, nil
	}
	return nil, ErrNotConfigured
}

// validate checks b looks like a service-account key without echoing any of
// it back in errors.
func validate(b []byte, source string) ([]byte, error) {
	var key struct {
		Type        string `json:"type"`
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(b, &key); err != nil {
		return nil, fmt.Errorf("%s: credentials are not valid JSON", source)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("%s: credentials lack client_email or private_key", source)
	}
	return b, nil
}

// Sources names where a key may be found.
type Sources struct {
	EnvJSON  string
	SecretID string
	File     string
}

// NewChain orders the configured sources: environment, Secrets Manager, then
// the key file.
func NewChain(ctx context.Context, src Sources) (Chain, error) {
	c := Chain{Static{Source: "env:GOOGLE_SERVICE_ACCOUNT", JSON: src.EnvJSON}}
	if src.SecretID != "" {
		sm, err := NewSecretsManager(ctx, src.SecretID)
		if err != nil {
			return nil, err
		}
		c = append(c, sm)
	}
	return append(c, File{Path: src.File}), nil
}
