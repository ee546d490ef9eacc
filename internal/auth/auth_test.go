package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator("bsk_valid_key_123")

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid key", "bsk_valid_key_123", nil},
		{"empty token", "", ErrMissingAPIKey},
		{"missing prefix", "valid_key_123", ErrInvalidAPIKey},
		{"wrong key", "bsk_wrong_key_456", ErrInvalidAPIKey},
		{"valid key with suffix", "bsk_valid_key_1234", ErrInvalidAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal, err := a.Authenticate(context.Background(), tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got err %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && principal == nil {
				t.Fatal("valid key returned nil principal")
			}
			if tt.wantErr != nil && principal != nil {
				t.Fatalf("invalid key returned principal %+v", principal)
			}
		})
	}
}

func TestCache_FreshHit(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("bsk_key", &Principal{ID: "client-1", Name: "client one"})

	res := c.Get("bsk_key")
	if !res.Hit || res.NeedsRefresh {
		t.Fatalf("got %+v, want fresh hit", res)
	}
	if res.Principal.ID != "client-1" {
		t.Errorf("got principal %+v", res.Principal)
	}
}

func TestCache_Miss(t *testing.T) {
	c := NewCache(time.Minute)

	res := c.Get("bsk_unknown")
	if res.Hit || res.NeedsRefresh || res.Principal != nil {
		t.Errorf("got %+v, want empty miss", res)
	}
}

func TestCache_StaleHitSignalsRefreshOnce(t *testing.T) {
	c := NewCache(-time.Second) // entries are born expired
	c.Set("bsk_key", &Principal{ID: "client-1"})

	first := c.Get("bsk_key")
	if !first.Hit || !first.NeedsRefresh {
		t.Fatalf("got %+v, want stale hit needing refresh", first)
	}
	if first.Principal == nil || first.Principal.ID != "client-1" {
		t.Error("stale hit must still serve the cached principal")
	}

	// Only one caller wins the refresh; the rest serve stale quietly.
	second := c.Get("bsk_key")
	if !second.Hit || second.NeedsRefresh {
		t.Errorf("got %+v, want stale hit without duplicate refresh", second)
	}
}

func TestCache_SetResetsRefreshFlag(t *testing.T) {
	c := NewCache(-time.Second)
	c.Set("bsk_key", &Principal{ID: "client-1"})

	if res := c.Get("bsk_key"); !res.NeedsRefresh {
		t.Fatalf("got %+v, want refresh signal", res)
	}

	// A refresh completing re-arms the entry.
	c.Set("bsk_key", &Principal{ID: "client-1"})
	if res := c.Get("bsk_key"); !res.NeedsRefresh {
		t.Errorf("got %+v, want refresh signal after re-set of an expired entry", res)
	}
}

func TestCache_Delete(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("bsk_key", &Principal{ID: "client-1"})
	c.Delete("bsk_key")

	if res := c.Get("bsk_key"); res.Hit {
		t.Errorf("got %+v after delete, want miss", res)
	}
}
