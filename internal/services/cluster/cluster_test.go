package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	consul "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent imita os endpoints do agente Consul usados pelo pacote.
type fakeAgent struct {
	mu           sync.Mutex
	registered   map[string]consul.AgentServiceRegistration
	deregistered []string
	healthCalls  int
}

func newFakeAgent(t *testing.T) (*fakeAgent, string) {
	t.Helper()
	a := &fakeAgent{registered: make(map[string]consul.AgentServiceRegistration)}
	ts := httptest.NewServer(a)
	t.Cleanup(ts.Close)
	return a, strings.TrimPrefix(ts.URL, "http://")
}

func (a *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w.Header().Set("X-Consul-Index", "1")
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/v1/status/leader":
		_, _ = io.WriteString(w, `"127.0.0.1:8300"`)

	case r.URL.Path == "/v1/agent/service/register":
		var reg consul.AgentServiceRegistration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		a.registered[reg.ID] = reg

	case strings.HasPrefix(r.URL.Path, "/v1/agent/service/deregister/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/agent/service/deregister/")
		delete(a.registered, id)
		a.deregistered = append(a.deregistered, id)

	case strings.HasPrefix(r.URL.Path, "/v1/health/service/"):
		a.healthCalls++
		name := strings.TrimPrefix(r.URL.Path, "/v1/health/service/")
		entries := []*consul.ServiceEntry{}
		for _, reg := range a.registered {
			if reg.Name != name {
				continue
			}
			entries = append(entries, &consul.ServiceEntry{
				Node:    &consul.Node{Address: "10.0.0.1"},
				Service: &consul.AgentService{ID: reg.ID, Service: reg.Name, Address: reg.Address, Port: reg.Port, Meta: reg.Meta},
			})
		}
		_ = json.NewEncoder(w).Encode(entries)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (a *fakeAgent) registration(id string) consul.AgentServiceRegistration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registered[id]
}

func (a *fakeAgent) deregisteredIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.deregistered...)
}

func (a *fakeAgent) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthCalls
}

func TestNewConsulClient_SkipsDeadNodes(t *testing.T) {
	_, addr := newFakeAgent(t)

	client, err := NewConsulClient("127.0.0.1:1, "+addr, nil)
	require.NoError(t, err)
	assert.NotNil(t, client)

	_, err = NewConsulClient("127.0.0.1:1", nil)
	assert.Error(t, err)
}

func TestRegisterDiscoverDeregister(t *testing.T) {
	agent, addr := newFakeAgent(t)
	client, err := NewConsulClient(addr, nil)
	require.NoError(t, err)

	reg := Registration{
		ServiceName:   "ringhunt-host",
		ServicePort:   8080,
		AdvertiseAddr: "host-a",
		Meta:          map[string]string{"sessionId": "s1"},
	}
	deregister, err := Register(client, reg, nil)
	require.NoError(t, err)

	stored := agent.registration(reg.ServiceID())
	require.NotNil(t, stored.Check)
	assert.Equal(t, "http://host-a:8080/health", stored.Check.HTTP)

	inst, err := Discover("ringhunt-host", addr, DiscoveryOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "host-a:8080", inst.Address)
	assert.Equal(t, "s1", inst.Meta["sessionId"])

	inst, err = discoverWithClient(client, "ringhunt-host", DiscoveryOptions{Mode: ModeSpecific, SpecificID: reg.ServiceID()})
	require.NoError(t, err)
	assert.Equal(t, reg.ServiceID(), inst.ID)

	_, err = discoverWithClient(client, "ringhunt-host", DiscoveryOptions{Mode: ModeSpecific, SpecificID: "other"})
	assert.ErrorIs(t, err, ErrNoInstance)

	require.NoError(t, deregister())
	assert.Equal(t, []string{reg.ServiceID()}, agent.deregisteredIDs())

	_, err = discoverWithClient(client, "ringhunt-host", DiscoveryOptions{})
	assert.ErrorIs(t, err, ErrNoInstance)
}

func TestDiscover_FallsBackToNodeAddress(t *testing.T) {
	_, addr := newFakeAgent(t)
	client, err := NewConsulClient(addr, nil)
	require.NoError(t, err)

	_, err = Register(client, Registration{ServiceName: "svc", ServicePort: 9000}, nil)
	require.NoError(t, err)

	inst, err := discoverWithClient(client, "svc", DiscoveryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9000", inst.Address)
}

func TestServiceCacheActor(t *testing.T) {
	agent, addr := newFakeAgent(t)
	client, err := NewConsulClient(addr, nil)
	require.NoError(t, err)
	_, err = Register(client, Registration{ServiceName: "ringhunt-host", ServicePort: 8080, AdvertiseAddr: "h"}, nil)
	require.NoError(t, err)

	cache := NewServiceCacheActor(time.Minute, client)
	defer cache.Close()
	ctx := context.Background()

	first, err := cache.Discover(ctx, "ringhunt-host")
	require.NoError(t, err)
	second, err := cache.Discover(ctx, "ringhunt-host")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, agent.calls())

	cache.Invalidate("ringhunt-host")
	_, err = cache.Discover(ctx, "ringhunt-host")
	require.NoError(t, err)
	assert.Equal(t, 2, agent.calls())

	// Falhas não entram no cache.
	_, err = cache.Discover(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoInstance)
	_, err = cache.Discover(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoInstance)
	assert.Equal(t, 4, agent.calls())
}

func TestHealthAggregator(t *testing.T) {
	h := NewHealthAggregator()
	h.AddCheck("hub", func() error { return nil })

	rec := httptest.NewRecorder()
	h.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	h.AddCheck("nats", func() error { return errors.New("disconnected") })
	rec = httptest.NewRecorder()
	h.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"nats":"disconnected"}`, rec.Body.String())
}
