package httpdiag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/soypat/ethat"
	"github.com/soypat/ethat/atcmd"
	"github.com/soypat/ethat/dhcps"
	"github.com/soypat/ethat/kv"
	"github.com/soypat/ethat/mac"
	"github.com/soypat/ethat/netif"
)

type leases []dhcps.Lease

func (l leases) Leases() []dhcps.Lease { return l }

func newServer(t *testing.T) (*Server, *netif.Sim) {
	t.Helper()
	table := netif.NewTable(nil)
	eth := netif.NewSim("et", 2, netif.FlagUp|netif.FlagLinkUp)
	if err := table.Register(netif.IndexEthernet, eth); err != nil {
		t.Fatal(err)
	}
	sim := mac.NewSim()
	c, err := ethat.New(ethat.Config{MAC: sim, Muxer: sim, Stack: table, Store: &kv.Mem{}, Sleep: func(time.Duration) {}})
	if err != nil {
		t.Fatal(err)
	}
	reg := atcmd.NewRegistry(nil)
	if err := ethat.RegisterCommands(reg, c); err != nil {
		t.Fatal(err)
	}
	return New(Config{Status: c, Leases: leases(nil), Registry: reg}), eth
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	s, _ := newServer(t)
	rec := do(t, s, http.MethodGet, "/eth/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type %q", ct)
	}
	var st ethat.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Interface == nil || st.Interface.Name != "et" || !st.Interface.LinkUp {
		t.Errorf("interface %+v", st.Interface)
	}
}

func TestLeasesEmpty(t *testing.T) {
	s, _ := newServer(t)
	rec := do(t, s, http.MethodGet, "/eth/leases", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body %q", rec.Body.String())
	}
}

func TestAT(t *testing.T) {
	s, eth := newServer(t)
	rec := do(t, s, http.MethodPost, "/at", "AT+ETHIP=0,10.0.0.2")
	if rec.Code != http.StatusOK || !strings.HasSuffix(rec.Body.String(), "\r\nOK\r\n") {
		t.Fatalf("code %d body %q", rec.Code, rec.Body.String())
	}
	if eth.Addresses().Addr != netip.MustParseAddr("10.0.0.2") {
		t.Errorf("address not applied: %+v", eth.Addresses())
	}

	rec = do(t, s, http.MethodPost, "/at", "AT+NOPE")
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "ERROR:2") {
		t.Errorf("code %d body %q", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodPost, "/at", "AT+ETHIP="+strings.Repeat("1", maxATLine))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("long line code %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/at", "")
	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "+LIST" {
		t.Errorf("names %v", names)
	}
}

func TestRoutesOmitted(t *testing.T) {
	s := New(Config{})
	if rec := do(t, s, http.MethodGet, "/eth/status", ""); rec.Code != http.StatusNotFound {
		t.Errorf("want 404 without status source, got %d", rec.Code)
	}
}
