package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gocolly/colly"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// ProberInterface reports whether an embed page can be served. A non-nil
// error means the provider could not be asked and the answer is unknown.
type ProberInterface interface {
	Probe(ctx context.Context, urls ...string) (bool, error)
}

// Prober visits embed pages and treats HTTP 200 as "available"
type Prober struct {
	timeout time.Duration
}

// NewProber creates a prober with the given per-request timeout
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{timeout: timeout}
}

// Probe visits each URL variant in order and returns true on the first one
// answering 200. It returns false with a nil error only when every variant
// answered with another status. Transport failures and cancellation are
// returned as errors.
func (p *Prober) Probe(ctx context.Context, urls ...string) (bool, error) {
	var errs []error
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		status, err := p.visit(url)
		if status == http.StatusOK {
			return true, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	return false, nil
}

// visit returns the HTTP status of url. Status 0 with an error means no
// response was received.
func (p *Prober) visit(url string) (int, error) {
	c := p.newCollector()
	status := 0
	var transportErr error

	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			status = r.StatusCode
			return
		}
		transportErr = err
		log.Printf("[probe] %s failed: %v", url, err)
	})

	err := c.Visit(url)
	if status > 0 {
		return status, nil
	}
	if transportErr == nil {
		transportErr = err
	}
	if transportErr == nil {
		transportErr = errors.New("no response")
	}
	return 0, fmt.Errorf("probe %s: %w", url, transportErr)
}

func (p *Prober) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(p.timeout)
	return c
}
