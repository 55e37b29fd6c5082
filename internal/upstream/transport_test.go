package upstream

import (
	"net/http"
	"testing"
)

func TestBuildTransportDisablesKeepAlivesByDefault(t *testing.T) {
	rt, err := BuildTransport("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr, ok := rt.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", rt)
	}
	if !tr.DisableKeepAlives {
		t.Fatal("expected keep-alives disabled when multiplexing is off")
	}
	if tr.MaxIdleConnsPerHost != 0 {
		t.Fatalf("expected no idle pool, got %d", tr.MaxIdleConnsPerHost)
	}
}

func TestBuildTransportConfiguresHTTP2WhenMultiplexingEnabled(t *testing.T) {
	rt, err := BuildTransport("", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr, ok := rt.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", rt)
	}
	if len(tr.TLSNextProto) == 0 {
		t.Fatal("expected http2.ConfigureTransports to have registered a TLSNextProto hook")
	}
}

func TestBuildTransportRejectsInvalidProxyURL(t *testing.T) {
	if _, err := BuildTransport("://not-a-url", false); err == nil {
		t.Fatal("expected an error for an unparsable proxy url")
	}
}

func TestBuildTransportAppliesProxy(t *testing.T) {
	rt, err := BuildTransport("http://proxy.invalid:8080", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := rt.(*http.Transport)
	if tr.Proxy == nil {
		t.Fatal("expected a proxy function to be set")
	}
	req, _ := http.NewRequest(http.MethodGet, "https://example.invalid", nil)
	u, err := tr.Proxy(req)
	if err != nil || u == nil || u.Host != "proxy.invalid:8080" {
		t.Fatalf("expected proxy to resolve to proxy.invalid:8080, got %v, %v", u, err)
	}
}
