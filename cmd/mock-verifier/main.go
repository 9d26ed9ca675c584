// Command mock-verifier runs a local stand-in for the email verification
// provider so pipeline runs can be exercised end to end without spending
// credits.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/outreachkit/email-discovery/internal/mockverifier"
)

func main() {
	addr := defaultString("MOCK_VERIFIER_ADDR", ":8081")
	apiKey := defaultString("MOCK_VERIFIER_API_KEY", "")

	fs := flag.NewFlagSet("mock-verifier", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&apiKey, "api-key", apiKey, "Require this api_key query parameter (empty disables)")
	credits := fs.Int("credits", 10000, "Starting credit balance reported by /getcredits")
	valid := fs.String("valid", "", "Comma-separated addresses that verify as valid")
	catchAll := fs.String("catch-all", "", "Comma-separated domains that report catch-all")
	_ = fs.Parse(os.Args[1:])

	srv := mockverifier.New(*credits)
	srv.RequireAPIKey(apiKey)
	srv.SetValid(splitCSV(*valid)...)
	srv.SetCatchAll(splitCSV(*catchAll)...)

	_, _ = fmt.Fprintf(os.Stdout, "mock-verifier listening on %s (credits=%d)\n", addr, *credits)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func defaultString(envVar, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return v
	}
	return fallback
}
