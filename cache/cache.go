// Package cache stores extracted field sets keyed by normalized URL and
// field list.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/use-agent/pluck/models"
)

// Cache is a pass-through key/value store for extraction results.
// Implementations are safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (models.ResultSet, bool, error)
	Set(ctx context.Context, key string, rs models.ResultSet, ttl time.Duration) error
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (models.ResultSet, bool, error) { return nil, false, nil }

func (Nop) Set(context.Context, string, models.ResultSet, time.Duration) error { return nil }

// NormalizeURL lowercases scheme and host, drops the default port and the
// fragment, and turns an empty path into "/". Unparseable input is
// returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String()
}

// Key hashes the normalized URL together with the field signature so that
// different field sets for the same page never share an entry.
func Key(normalizedURL string, fields []models.FieldSpec) string {
	h := sha256.New()
	h.Write([]byte(normalizedURL))
	for _, f := range fields {
		h.Write([]byte{0})
		h.Write([]byte(f.Name))
		h.Write([]byte{1})
		h.Write([]byte(f.Selector))
		h.Write([]byte{1})
		h.Write([]byte(f.Type))
	}
	return hex.EncodeToString(h.Sum(nil))
}
