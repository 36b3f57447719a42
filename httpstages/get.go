package httpstages

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dcshock/flowrt/flow"
	"github.com/dcshock/flowrt/future"
)

// Get returns a step that performs an HTTP GET to the fixed url and settles
// with the response body as []byte. The request runs on its own goroutine
// and is bound to the ctx the step receives, which is the context the
// instance was invoked with. Cancelling the instance does not cancel that
// context: an in-flight request runs on and the runtime ignores its
// result. If client is nil, http.DefaultClient is used.
func Get(client *http.Client, url string) flow.AsyncStep {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, _ any, _ error) <-chan future.Settlement {
		f := future.New()
		go func() {
			body, err := doGet(ctx, client, url)
			if err != nil {
				f.Reject(err)
				return
			}
			f.Resolve(body)
		}()
		return f.C()
	}
}

// Fetch returns a step that performs an HTTP GET to the URL carried as the
// incoming pipeline value. Input must be a string. Otherwise identical to
// Get.
func Fetch(client *http.Client) flow.AsyncStep {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, value any, _ error) <-chan future.Settlement {
		f := future.New()
		url, ok := value.(string)
		if !ok {
			f.Reject(fmt.Errorf("httpstages: fetch input must be a URL string, got %T", value))
			return f.C()
		}
		go func() {
			body, err := doGet(ctx, client, url)
			if err != nil {
				f.Reject(err)
				return
			}
			f.Resolve(body)
		}()
		return f.C()
	}
}

func doGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpstages: new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpstages: get %q: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("httpstages: get %q: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpstages: get %q: read body: %w", url, err)
	}
	return body, nil
}
