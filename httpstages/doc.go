// Package httpstages adapts the runtime's Step kinds to HTTP calls: Get and
// Fetch are flow.AsyncStep so a slow round trip suspends the instance
// instead of blocking the dispatcher goroutine (spec §5), while ParseJSON,
// ParseJSONTo, and Expect are flow.FuncStep since they're pure
// transformations of an already-fetched body.
//
// Example pipeline: GET url -> ParseJSON -> Expect(predicate)
//
//	p := flow.New("check-api", flow.Body{
//	    Begin: []flow.Step{
//	        httpstages.Get(nil, "https://api.example.com/status"),
//	        httpstages.ParseJSON(),
//	        httpstages.Expect(func(v any) error {
//	            m, _ := v.(map[string]any)
//	            if m["status"] != "ok" {
//	                return fmt.Errorf("unexpected status")
//	            }
//	            return nil
//	        }),
//	    },
//	})
package httpstages
