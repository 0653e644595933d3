package heat

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"heatbot/internal/caseid"
)

// fakeDriver scripts the target system for fetcher and session tests.
type fakeDriver struct {
	mu sync.Mutex

	authErr   error
	authDelay time.Duration
	openErr   error
	searchErr error
	results   []SearchResult
	page      string

	authCalls int
	opens     int
	closes    int
	searches  int
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Authenticate(ctx context.Context, _ Credentials) ([]*http.Cookie, error) {
	d.mu.Lock()
	d.authCalls++
	delay, err := d.authDelay, d.authErr
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []*http.Cookie{{Name: "ASP.NET_SessionId", Value: "abc"}}, nil
}

func (d *fakeDriver) Open(context.Context, Session) (Attempt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opens++
	return &fakeAttempt{d: d}, nil
}

func (d *fakeDriver) counts() (auth, opens, closes, searches int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.authCalls, d.opens, d.closes, d.searches
}

type fakeAttempt struct {
	d      *fakeDriver
	closed bool
}

func (a *fakeAttempt) Search(context.Context, caseid.ID) ([]SearchResult, error) {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	a.d.searches++
	if a.d.searchErr != nil {
		return nil, a.d.searchErr
	}
	return a.d.results, nil
}

func (a *fakeAttempt) OpenRecord(context.Context, SearchResult) (*goquery.Document, error) {
	a.d.mu.Lock()
	page := a.d.page
	a.d.mu.Unlock()
	return goquery.NewDocumentFromReader(strings.NewReader(page))
}

func (a *fakeAttempt) Close() error {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	if !a.closed {
		a.closed = true
		a.d.closes++
	}
	return nil
}
