// Package utils holds small helpers shared by the aggregator clients and the
// CLI.
package utils

import (
	"fmt"
	"net/http"
	"net/http/httputil"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}

// DebugRoundTripper dumps every aggregator and ledger request and response to
// stdout. Wired onto the HTTP clients when the debug flag is set.
func DebugRoundTripper() http.RoundTripper {
	return DebugRoundTripperWithUnderlying(http.DefaultTransport)
}

func DebugRoundTripperWithUnderlying(u http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		d, _ := httputil.DumpRequest(r, true)
		fmt.Println(string(d))
		res, err := u.RoundTrip(r)
		if err == nil {
			d, _ := httputil.DumpResponse(res, true)
			fmt.Println(string(d))
		}
		return res, err
	})
}
