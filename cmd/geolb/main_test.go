package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quik-cdn/quik-edge/internal/config"
	"github.com/quik-cdn/quik-edge/internal/geolb"
)

func TestResolveReturnsRegionalPOP(t *testing.T) {
	selector, registry := newTestSelector(t)
	registry.Update("sg-1", geolb.Status{Healthy: true, Latency: 30 * time.Millisecond, Measured: true})
	registry.Update("de-1", geolb.Status{Healthy: true, Latency: 10 * time.Millisecond, Measured: true})
	app := newApp(selector, 30*time.Second, silentLogger())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/resolve?client=203.0.113.7", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Name != "sg-1" || payload.Address != "10.0.0.1:8443" || payload.TTL != 30 {
		t.Fatalf("unexpected resolve payload: %+v", payload)
	}
}

func TestResolveServfailWithoutHealthyPOP(t *testing.T) {
	selector, _ := newTestSelector(t)
	app := newApp(selector, time.Minute, silentLogger())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/resolve?client=203.0.113.7", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusServiceUnavailable || string(body) != `{"error":"servfail"}` {
		t.Fatalf("expected servfail, got %d %s", resp.StatusCode, string(body))
	}
}

func TestResolveRejectsInvalidClient(t *testing.T) {
	selector, _ := newTestSelector(t)
	app := newApp(selector, time.Minute, silentLogger())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/resolve?client=not-an-ip", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func newTestSelector(t *testing.T) (*geolb.Selector, *geolb.Registry) {
	t.Helper()
	cfg := config.GeoLBConfig{
		POPs: []config.POPConfig{
			{Name: "sg-1", Region: "SG", Address: "10.0.0.1:8443"},
			{Name: "de-1", Region: "DE", Address: "10.0.1.1:8443"},
		},
		Regions: []config.RegionConfig{
			{Name: "SG", CIDRs: []string{"203.0.113.0/24"}},
		},
	}
	registry := geolb.RegistryFromConfig(cfg)
	regions, err := geolb.NewRegionTable(cfg.Regions)
	if err != nil {
		t.Fatalf("NewRegionTable: %v", err)
	}
	return &geolb.Selector{Registry: registry, Regions: regions}, registry
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
