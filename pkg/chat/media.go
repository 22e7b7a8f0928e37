package chat

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Signer exchanges a stored object key for a short-lived download URL.
// A zero expiry means the signer did not report one.
type Signer interface {
	SignDownload(ctx context.Context, key string) (string, time.Time, error)
}

// KeyFromReference strips bucket and region addressing from a stored media
// reference and returns the object key the signer expects.
func KeyFromReference(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimPrefix(ref, "/")
	}
	path := strings.TrimPrefix(u.Path, "/")
	switch {
	case u.Scheme == "s3":
		// s3://bucket/key
		return path
	case strings.HasPrefix(u.Host, "s3.") || strings.HasPrefix(u.Host, "s3-"):
		// path-style: https://s3.region.amazonaws.com/bucket/key
		if i := strings.IndexByte(path, '/'); i >= 0 {
			return path[i+1:]
		}
		return ""
	default:
		// virtual-hosted: https://bucket.s3.region.amazonaws.com/key
		return path
	}
}

type cachedLink struct {
	url     string
	expires time.Time
}

// Resolver maps media references to signed URLs. Its cache lives as long as
// the view that owns it, so links never leak across groups.
type Resolver struct {
	signer   Signer
	parallel int
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedLink
}

func NewResolver(signer Signer, parallel int, ttl time.Duration) *Resolver {
	if parallel <= 0 {
		parallel = 4
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{
		signer:   signer,
		parallel: parallel,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]cachedLink),
	}
}

// Resolve returns a fresh map from each present reference to its signed
// URL. References that fail to sign are left out.
func (r *Resolver) Resolve(ctx context.Context, refs []string) map[string]string {
	out := make(map[string]string)
	if r.signer == nil {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)

	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}

		key := KeyFromReference(ref)
		if key == "" {
			continue
		}
		if link, ok := r.cached(key); ok {
			// workers started above may already be writing out
			mu.Lock()
			out[ref] = link
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			link, expires, err := r.signer.SignDownload(gctx, key)
			if err != nil || link == "" {
				if gctx.Err() == nil {
					log.Debug().Err(err).Str("key", key).Msg("media link unavailable")
				}
				return nil
			}
			r.store(key, link, expires)
			mu.Lock()
			out[ref] = link
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Resolver) cached(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache[key]
	if !ok || !r.now().Before(c.expires) {
		return "", false
	}
	return c.url, true
}

func (r *Resolver) store(key, link string, expires time.Time) {
	now := r.now()
	limit := now.Add(r.ttl)
	if !expires.IsZero() {
		// cached links lapse at 80% of their signed lifetime
		if e := expires.Add(-time.Duration(float64(expires.Sub(now)) * 0.2)); e.Before(limit) {
			limit = e
		}
	}
	r.mu.Lock()
	r.cache[key] = cachedLink{url: link, expires: limit}
	r.mu.Unlock()
}
