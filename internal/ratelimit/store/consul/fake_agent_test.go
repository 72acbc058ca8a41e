package consul

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/consul/api"
)

// fakeAgent serves the subset of the Consul HTTP API the store uses: KV
// get/list, check-and-set puts and deletes, and the leader endpoint.
type fakeAgent struct {
	mu    sync.Mutex
	index uint64
	pairs map[string]*api.KVPair
	down  bool
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{pairs: make(map[string]*api.KVPair)}
}

func (f *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		http.Error(w, "no cluster leader", http.StatusInternalServerError)
		return
	}

	w.Header().Set("X-Consul-Index", strconv.FormatUint(f.index, 10))
	w.Header().Set("X-Consul-KnownLeader", "true")
	w.Header().Set("X-Consul-LastContact", "0")

	if r.URL.Path == "/v1/status/leader" {
		_ = json.NewEncoder(w).Encode("127.0.0.1:8300")
		return
	}

	key, ok := strings.CutPrefix(r.URL.Path, "/v1/kv/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	query := r.URL.Query()

	switch r.Method {
	case http.MethodGet:
		f.get(w, key, query.Has("recurse"))
	case http.MethodPut:
		value, _ := io.ReadAll(r.Body)
		f.put(w, key, value, query)
	case http.MethodDelete:
		f.delete(w, key, query)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeAgent) get(w http.ResponseWriter, key string, recurse bool) {
	var out []*api.KVPair
	if recurse {
		for k, pair := range f.pairs {
			if strings.HasPrefix(k, key) {
				out = append(out, pair)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	} else if pair, ok := f.pairs[key]; ok {
		out = append(out, pair)
	}
	if len(out) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (f *fakeAgent) put(w http.ResponseWriter, key string, value []byte, query map[string][]string) {
	current, exists := f.pairs[key]
	if cas, set := casIndex(query); set {
		if (cas == 0 && exists) || (cas != 0 && (!exists || current.ModifyIndex != cas)) {
			_, _ = io.WriteString(w, "false")
			return
		}
	}
	f.index++
	pair := &api.KVPair{Key: key, Value: value, ModifyIndex: f.index, CreateIndex: f.index}
	if exists {
		pair.CreateIndex = current.CreateIndex
	}
	f.pairs[key] = pair
	_, _ = io.WriteString(w, "true")
}

func (f *fakeAgent) delete(w http.ResponseWriter, key string, query map[string][]string) {
	current, exists := f.pairs[key]
	if cas, set := casIndex(query); set && (!exists || current.ModifyIndex != cas) {
		_, _ = io.WriteString(w, "false")
		return
	}
	delete(f.pairs, key)
	f.index++
	_, _ = io.WriteString(w, "true")
}

func (f *fakeAgent) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeAgent) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pairs))
	for k := range f.pairs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func casIndex(query map[string][]string) (uint64, bool) {
	values, ok := query["cas"]
	if !ok || len(values) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(values[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
