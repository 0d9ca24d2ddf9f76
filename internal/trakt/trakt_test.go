package trakt

import (
	"context"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/ddboline/movie-collection-go/internal/config"
)

func TestImdbLinkRoundTrip(t *testing.T) {
	id := "tt0141842"
	link := imdbLink(id)
	want := "https://www.imdb.com/title/tt0141842"
	if link != want {
		t.Fatalf("imdbLink() = %q, want %q", link, want)
	}
	if got := imdbID(link); got != id {
		t.Errorf("imdbID() = %q, want %q", got, id)
	}
}

func TestImdbLinkEmpty(t *testing.T) {
	if got := imdbLink(""); got != "" {
		t.Errorf("imdbLink(\"\") = %q, want empty", got)
	}
}

func TestImdbIDPassthroughWhenNotALink(t *testing.T) {
	if got := imdbID("tt0141842"); got != "tt0141842" {
		t.Errorf("imdbID() = %q, want unchanged input", got)
	}
}

func TestTokenStoreClientUsesSnapshot(t *testing.T) {
	store := NewTokenStore(config.Trakt{ClientID: "id", ClientSecret: "secret"}, &oauth2.Token{
		AccessToken: "first",
		Expiry:      time.Now().Add(time.Hour),
	})

	client := store.Client(context.Background())
	if client == nil {
		t.Fatal("expected a non-nil http.Client")
	}

	// Replacing the held token must not retroactively change a client
	// built from an earlier snapshot (spec §9: immutable snapshot reads).
	store.SetToken(&oauth2.Token{AccessToken: "second", Expiry: time.Now().Add(time.Hour)})

	transport, ok := client.Transport.(*oauth2.Transport)
	if !ok {
		t.Fatalf("expected an *oauth2.Transport, got %T", client.Transport)
	}
	snapshot, err := transport.Source.Token()
	if err != nil {
		t.Fatalf("snapshot token: %v", err)
	}
	if snapshot.AccessToken != "first" {
		t.Errorf("earlier client token = %q, want %q", snapshot.AccessToken, "first")
	}

	store.mu.RLock()
	tok := store.token.AccessToken
	store.mu.RUnlock()
	if tok != "second" {
		t.Errorf("expected stored token to be updated, got %q", tok)
	}
}
