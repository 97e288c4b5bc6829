package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/observability"
)

// Results stores normalized documents. A nil *Results is valid and never hits.
type Results struct {
	client Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewResults wraps client. It returns nil when client is nil.
func NewResults(client Client, ttl time.Duration, logger *observability.Logger) *Results {
	if client == nil {
		return nil
	}
	return &Results{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached document for key, if any. Cache failures are logged
// and reported as misses.
func (r *Results) Get(ctx context.Context, key string) (*domain.NormalizedDocument, bool) {
	if r == nil {
		return nil, false
	}
	data, err := r.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn().Err(err).Str("key", key).Msg("Result cache read failed")
		}
		return nil, false
	}

	var doc domain.NormalizedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Dropping unreadable cache entry")
		_ = r.client.Delete(ctx, key)
		return nil, false
	}
	if doc.Pages == nil {
		doc.Pages = []any{}
	}
	return &doc, true
}

// Put stores doc under key.
func (r *Results) Put(ctx context.Context, key string, doc *domain.NormalizedDocument) {
	if r == nil || doc == nil {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Result not cacheable")
		return
	}
	if err := r.client.Set(ctx, key, data, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Result cache write failed")
	}
}

// Key scopes for stored results.
const (
	ScopeReference = "ref"
	ScopeContent   = "sha"
)

// Purge removes stored results in scope, or all results when scope is empty.
func (r *Results) Purge(ctx context.Context, scope string) error {
	if r == nil {
		return nil
	}
	switch scope {
	case "":
		for _, s := range []string{ScopeReference, ScopeContent} {
			if err := r.client.DeleteByPrefix(ctx, s+":"); err != nil {
				return err
			}
		}
		return nil
	case ScopeReference, ScopeContent:
		return r.client.DeleteByPrefix(ctx, scope+":")
	default:
		return fmt.Errorf("unknown cache scope: %s", scope)
	}
}

// ReferenceKey keys a result extracted from an input reference.
func ReferenceKey(input, version string, opts domain.ExtractOptions) string {
	sum := sha256.Sum256([]byte(input))
	return CacheKey(append([]string{ScopeReference, hex.EncodeToString(sum[:]), version}, optionParts(opts)...)...)
}

// ContentKey keys a result extracted from uploaded bytes with the given digest.
func ContentKey(sha256Hex, version string, opts domain.ExtractOptions) string {
	return CacheKey(append([]string{ScopeContent, sha256Hex, version}, optionParts(opts)...)...)
}

func optionParts(opts domain.ExtractOptions) []string {
	return []string{
		opts.Backend,
		opts.Method,
		opts.Lang,
		strconv.FormatBool(opts.FormulaEnable),
		strconv.FormatBool(opts.TableEnable),
		strconv.Itoa(opts.StartPage),
		strconv.Itoa(opts.EndPage),
	}
}
