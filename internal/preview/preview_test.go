package preview

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func publicResolver(t *testing.T) func(context.Context, string) ([]net.IPAddr, error) {
	t.Helper()
	return func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
	}
}

func TestCardExtractsOpenGraph(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head>
			<title>Fallback Title</title>
			<meta property="og:title" content="OG Title">
			<meta property="og:description" content="A   description">
			<meta property="og:site_name" content="Example">
			<meta property="og:image" content="/img/card.png">
			<link rel="shortcut icon" href="/fav.ico">
		</head><body></body></html>`))
	}))
	defer srv.Close()

	s := NewService(nil, nil)
	s.resolve = publicResolver(t)

	card, err := s.Card(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("Card() error = %v", err)
	}
	if card.Title != "OG Title" {
		t.Errorf("Title = %q", card.Title)
	}
	if card.Description != "A description" {
		t.Errorf("Description = %q", card.Description)
	}
	if card.SiteName != "Example" {
		t.Errorf("SiteName = %q", card.SiteName)
	}
	if card.Image != srv.URL+"/img/card.png" {
		t.Errorf("Image = %q", card.Image)
	}
	if card.Favicon != srv.URL+"/fav.ico" {
		t.Errorf("Favicon = %q", card.Favicon)
	}
}

func TestCardFallsBackToTitleTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Plain Page</title></head><body></body></html>`))
	}))
	defer srv.Close()

	s := NewService(nil, nil)
	s.resolve = publicResolver(t)

	card, err := s.Card(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Card() error = %v", err)
	}
	if card.Title != "Plain Page" {
		t.Errorf("Title = %q", card.Title)
	}
	if card.Favicon != srv.URL+"/favicon.ico" {
		t.Errorf("Favicon = %q", card.Favicon)
	}
}

func TestCardRejectsPrivateDestination(t *testing.T) {
	s := NewService(nil, nil)
	s.resolve = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP("10.1.2.3")}}, nil
	}
	_, err := s.Card(context.Background(), "http://internal.example/secret")
	if !errors.Is(err, ErrDisallowedURL) {
		t.Fatalf("expected ErrDisallowedURL, got %v", err)
	}
}

func TestCardRejectsBadScheme(t *testing.T) {
	s := NewService(nil, nil)
	_, err := s.Card(context.Background(), "ftp://example.org/file")
	if !errors.Is(err, ErrDisallowedURL) {
		t.Fatalf("expected ErrDisallowedURL, got %v", err)
	}
}

func TestCardRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	s := NewService(nil, nil)
	s.resolve = publicResolver(t)

	_, err := s.Card(context.Background(), srv.URL)
	if !errors.Is(err, ErrUnsupportedContent) {
		t.Fatalf("expected ErrUnsupportedContent, got %v", err)
	}
}

func TestCardUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCacheWithClient(client, time.Hour)

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Cached</title></head></html>`))
	}))
	defer srv.Close()

	s := NewService(cache, nil)
	s.resolve = publicResolver(t)

	for range 2 {
		card, err := s.Card(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Card() error = %v", err)
		}
		if card.Title != "Cached" {
			t.Errorf("Title = %q", card.Title)
		}
	}
	if hits != 1 {
		t.Fatalf("expected one upstream fetch, got %d", hits)
	}
}
