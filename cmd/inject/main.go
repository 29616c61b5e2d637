// Command inject posts a synthetic hazard event to a running hazardd so an
// operator can exercise the alert path end to end. Synthetic events are
// flagged as tests in every notification they produce and can be removed
// with -clear.
//
// Usage:
//
//	OPERATOR_TOKEN=... go run ./cmd/inject -kind earthquake -lat 14.6 -lon 121.0 -magnitude 6.2
//	OPERATOR_TOKEN=... go run ./cmd/inject -kind storm -lat 15.2 -lon 124.1 -name Kristine -wind 190
//	OPERATOR_TOKEN=... go run ./cmd/inject -clear
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	httpadapter "github.com/couchcryptid/hazard-alert-service/internal/adapter/http"
)

const syntheticPath = "/api/v1/admin/synthetic-events"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inject", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", sharedcfg.EnvOrDefault("HAZARD_URL", "http://localhost:8080"), "base URL of the hazard service")
	token := fs.String("token", os.Getenv("OPERATOR_TOKEN"), "operator token (defaults to $OPERATOR_TOKEN)")
	clearAll := fs.Bool("clear", false, "delete all synthetic events and notifications instead of injecting")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")

	var req httpadapter.InjectRequest
	fs.StringVar(&req.Kind, "kind", "earthquake", "hazard kind: earthquake, storm or flood")
	fs.StringVar(&req.ID, "id", "", "earthquake event id; reuse it to update an earlier injection")
	fs.Float64Var(&req.Latitude, "lat", 0, "latitude")
	fs.Float64Var(&req.Longitude, "lon", 0, "longitude")
	fs.StringVar(&req.Place, "place", "", "place description")
	fs.Float64Var(&req.Magnitude, "magnitude", 0, "earthquake magnitude")
	fs.Float64Var(&req.DepthKm, "depth", 0, "earthquake depth in km")
	fs.StringVar(&req.Name, "name", "", "storm name")
	fs.Float64Var(&req.WindKmh, "wind", 0, "storm maximum sustained wind in km/h")
	fs.StringVar(&req.Category, "category", "", "storm category label, e.g. TY")
	fs.StringVar(&req.Basin, "basin", "", "river basin name")
	fs.Float64Var(&req.DischargeRatio, "discharge-ratio", 0, "river discharge as a multiple of normal")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *token == "" {
		fmt.Fprintln(stderr, "operator token is required (-token or OPERATOR_TOKEN)")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := &client{base: strings.TrimRight(*addr, "/"), token: *token, http: http.DefaultClient}
	var (
		body []byte
		err  error
	)
	if *clearAll {
		body, err = client.do(ctx, http.MethodDelete, nil)
	} else {
		body, err = client.do(ctx, http.MethodPost, req)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, string(bytes.TrimSpace(body)))
	return 0
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) do(ctx context.Context, method string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+syntheticPath, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(httpadapter.OperatorTokenHeader, c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, syntheticPath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s %s: status %d: %s", method, syntheticPath, resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, syntheticPath, resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, errors.New("empty response")
	}
	return body, nil
}
