package httpstages

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dcshock/flowrt/flow"
	"github.com/dcshock/flowrt/future"
	"github.com/dcshock/flowrt/runtime"
	"github.com/stretchr/testify/require"
)

// await blocks until out settles directly or, if it is the suspension
// channel Invoke hands back for an AsyncStep pipeline, until that channel
// delivers.
func await(t *testing.T, out any, err error) (any, error) {
	t.Helper()
	if err != nil {
		return nil, err
	}
	ch, ok := out.(<-chan future.Settlement)
	if !ok {
		return out, nil
	}
	select {
	case s := <-ch:
		return s.Value, s.Err
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never settled")
		return nil, nil
	}
}

// TestPipeline_GetParseJSONExpect runs a full pipeline through the runtime:
// Get -> ParseJSON -> Expect (pass), confirming Get's AsyncStep suspension
// and resumption interleaves correctly with the two synchronous steps that
// follow it.
func TestPipeline_GetParseJSONExpect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":1}`))
	}))
	defer ts.Close()

	p := flow.New("http-check", flow.Body{
		Begin: []flow.Step{
			Get(nil, ts.URL),
			ParseJSON(),
			Expect(func(v any) error {
				m, ok := v.(map[string]any)
				if !ok {
					return fmt.Errorf("expected map")
				}
				if m["status"] != "ok" {
					return fmt.Errorf("status is %v", m["status"])
				}
				return nil
			}),
		},
	})

	rt := runtime.Start(context.Background(), map[string]*flow.Pipeline{"http-check": p}, runtime.Options{})
	defer rt.Stop()

	invokeOut, invokeErr := rt.Invoke(context.Background(), "http-check", nil, flow.InvokeOpts{})
	out, err := await(t, invokeOut, invokeErr)
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok, "expected result map, got %T", out)
	require.Equal(t, "ok", m["status"])
	require.Equal(t, float64(1), m["version"])
}

// TestPipeline_ExpectFailureRoutesToCaller verifies the unrecovered Expect
// error surfaces from Invoke when the pipeline has no rescue block.
func TestPipeline_ExpectFailureRoutesToCaller(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error"}`))
	}))
	defer ts.Close()

	p := flow.New("http-check-fail", flow.Body{
		Begin: []flow.Step{
			Get(nil, ts.URL),
			ParseJSON(),
			Expect(func(v any) error {
				m, _ := v.(map[string]any)
				if s, _ := m["status"].(string); s != "ok" {
					return fmt.Errorf("unexpected status: %v", m["status"])
				}
				return nil
			}),
		},
	})

	rt := runtime.Start(context.Background(), map[string]*flow.Pipeline{"http-check-fail": p}, runtime.Options{})
	defer rt.Stop()

	invokeOut, invokeErr := rt.Invoke(context.Background(), "http-check-fail", nil, flow.InvokeOpts{})
	_, err := await(t, invokeOut, invokeErr)
	require.Error(t, err)
}
