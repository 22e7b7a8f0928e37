package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFromReference(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"", ""},
		{"  ", ""},
		{"uploads/a.png", "uploads/a.png"},
		{"/uploads/a.png", "uploads/a.png"},
		{"s3://media-bucket/uploads/a.png", "uploads/a.png"},
		{"https://media-bucket.s3.eu-west-1.amazonaws.com/uploads/a.png", "uploads/a.png"},
		{"https://s3.eu-west-1.amazonaws.com/media-bucket/uploads/a.png", "uploads/a.png"},
		{"https://s3-eu-west-1.amazonaws.com/media-bucket/uploads/a.png", "uploads/a.png"},
		{"https://s3.amazonaws.com/media-bucket", ""},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyFromReference(tt.ref))
		})
	}
}

func TestResolver_SkipsEmptyAndDuplicates(t *testing.T) {
	signer := &fakeSigner{}
	r := NewResolver(signer, 2, time.Minute)

	links := r.Resolve(context.Background(), []string{
		"s3://b/a.png", "", "s3://b/a.png", "https://b.s3.amazonaws.com/c.mp4",
	})

	assert.Equal(t, map[string]string{
		"s3://b/a.png":                     "https://signed.example/a.png",
		"https://b.s3.amazonaws.com/c.mp4": "https://signed.example/c.mp4",
	}, links)
	assert.Equal(t, 2, signer.callCount())
}

func TestResolver_BestEffort(t *testing.T) {
	signer := &fakeSigner{fail: map[string]bool{"bad.png": true}}
	r := NewResolver(signer, 0, 0)

	links := r.Resolve(context.Background(), []string{"s3://b/bad.png", "s3://b/good.png"})

	assert.Equal(t, map[string]string{"s3://b/good.png": "https://signed.example/good.png"}, links)
}

func TestResolver_CachesWithinLifetime(t *testing.T) {
	signer := &fakeSigner{}
	r := NewResolver(signer, 1, time.Minute)
	now := time.Now()
	r.now = func() time.Time { return now }

	refs := []string{"s3://b/a.png"}
	first := r.Resolve(context.Background(), refs)
	second := r.Resolve(context.Background(), refs)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, signer.callCount())

	now = now.Add(2 * time.Minute)
	r.Resolve(context.Background(), refs)
	assert.Equal(t, 2, signer.callCount(), "re-signed after the cache lapses")
}

func TestResolver_Cancelled(t *testing.T) {
	signer := &fakeSigner{block: make(chan struct{})}
	r := NewResolver(signer, 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan map[string]string)
	go func() { done <- r.Resolve(ctx, []string{"s3://b/a.png"}) }()

	require.Eventually(t, func() bool { return signer.callCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case links := <-done:
		assert.Empty(t, links)
	case <-time.After(time.Second):
		t.Fatal("resolve did not return after cancel")
	}
}

func TestResolver_NoSigner(t *testing.T) {
	assert.Empty(t, NewResolver(nil, 1, time.Minute).Resolve(context.Background(), []string{"s3://b/a.png"}))
}

// slowSigner signs "slow" keys after a short pause so their workers are
// still running while cached hits are collected.
type slowSigner struct{}

func (slowSigner) SignDownload(_ context.Context, key string) (string, time.Time, error) {
	if strings.HasPrefix(key, "slow") {
		time.Sleep(time.Millisecond)
	}
	return "https://signed.example/" + key, time.Now().Add(time.Hour), nil
}

func TestResolver_MixesCachedAndSigned(t *testing.T) {
	r := NewResolver(slowSigner{}, 4, time.Minute)

	var refs []string
	for i := 0; i < 4; i++ {
		refs = append(refs, fmt.Sprintf("s3://b/slow-%d.png", i))
	}
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("cached-%d.png", i)
		r.store(key, "https://cached.example/"+key, time.Time{})
		refs = append(refs, "s3://b/"+key)
	}

	links := r.Resolve(context.Background(), refs)

	require.Len(t, links, 2004)
	assert.Equal(t, "https://signed.example/slow-0.png", links["s3://b/slow-0.png"])
	assert.Equal(t, "https://cached.example/cached-1999.png", links["s3://b/cached-1999.png"])
}
