package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"cfdb/pkg/db"
	"cfdb/pkg/merge"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	dir := t.TempDir()
	cfOpts := db.ColumnFamilyOptions{MergeOperator: merge.Append{Delim: []byte(",")}}
	engine, handles, err := db.Open(db.Options{}, dir, []db.ColumnFamilyDescriptor{
		{Name: "default", Options: cfOpts},
	})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	srv := NewServer(engine, map[string]*db.ColumnFamilyHandle{"default": handles[0]}, cfOpts, "")
	ts := httptest.NewServer(srv.createRouter())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doForm(t *testing.T, method, target string, form url.Values) (int, Response) {
	t.Helper()

	req, err := http.NewRequest(method, target, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, body
}

func doGet(t *testing.T, target string) (int, Response) {
	t.Helper()

	resp, err := http.Get(target)
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	defer resp.Body.Close()

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, body
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := doGet(t, ts.URL+"/health")
	if code != http.StatusOK || body.Status != StatusOK {
		t.Fatalf("health: code=%d status=%q", code, body.Status)
	}
}

func TestServer_PutGetDelete(t *testing.T) {
	_, ts := newTestServer(t)

	form := url.Values{"key": {"answer"}, "value": {"42"}}
	if code, _ := doForm(t, http.MethodPut, ts.URL+"/api/cf/default/string", form); code != http.StatusOK {
		t.Fatalf("put: code=%d", code)
	}

	code, body := doGet(t, ts.URL+"/api/cf/default/string?key=answer")
	if code != http.StatusOK || body.Value != "42" {
		t.Fatalf("get: code=%d value=%q", code, body.Value)
	}

	if code, _ := doForm(t, http.MethodDelete, ts.URL+"/api/cf/default/string?key=answer", nil); code != http.StatusOK {
		t.Fatalf("delete: code=%d", code)
	}
	if code, _ := doGet(t, ts.URL+"/api/cf/default/string?key=answer"); code != http.StatusNotFound {
		t.Fatalf("get after delete: code=%d", code)
	}
}

func TestServer_FamilyLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	if code, _ := doForm(t, http.MethodPost, ts.URL+"/api/cf", url.Values{"name": {"events"}}); code != http.StatusOK {
		t.Fatalf("create: code=%d", code)
	}
	if code, _ := doForm(t, http.MethodPost, ts.URL+"/api/cf", url.Values{"name": {"events"}}); code != http.StatusConflict {
		t.Fatalf("duplicate create: code=%d", code)
	}

	code, body := doGet(t, ts.URL+"/api/cf")
	if code != http.StatusOK {
		t.Fatalf("list: code=%d", code)
	}
	want := []string{"default", "events"}
	if len(body.Families) != len(want) || body.Families[0] != want[0] || body.Families[1] != want[1] {
		t.Fatalf("list: got %v, want %v", body.Families, want)
	}

	form := url.Values{"key": {"k"}, "value": {"v"}}
	if code, _ := doForm(t, http.MethodPut, ts.URL+"/api/cf/events/string", form); code != http.StatusOK {
		t.Fatalf("put to new family: code=%d", code)
	}

	if code, _ := doForm(t, http.MethodDelete, ts.URL+"/api/cf/events", nil); code != http.StatusOK {
		t.Fatalf("drop: code=%d", code)
	}
	if code, _ := doGet(t, ts.URL+"/api/cf/events/string?key=k"); code != http.StatusNotFound {
		t.Fatalf("get after drop: code=%d", code)
	}
	if code, _ := doForm(t, http.MethodDelete, ts.URL+"/api/cf/events", nil); code != http.StatusNotFound {
		t.Fatalf("double drop: code=%d", code)
	}
}

func TestServer_Merge(t *testing.T) {
	_, ts := newTestServer(t)

	for _, v := range []string{"a", "b", "c"} {
		form := url.Values{"key": {"tags"}, "value": {v}}
		if code, _ := doForm(t, http.MethodPost, ts.URL+"/api/cf/default/merge", form); code != http.StatusOK {
			t.Fatalf("merge %q: code=%d", v, code)
		}
	}

	code, body := doGet(t, ts.URL+"/api/cf/default/string?key=tags")
	if code != http.StatusOK || body.Value != "a,b,c" {
		t.Fatalf("merged value: code=%d value=%q", code, body.Value)
	}
}

func TestServer_UnknownFamily(t *testing.T) {
	_, ts := newTestServer(t)

	if code, _ := doGet(t, ts.URL+"/api/cf/nope/string?key=k"); code != http.StatusNotFound {
		t.Fatalf("get unknown family: code=%d", code)
	}
	form := url.Values{"key": {"k"}, "value": {"v"}}
	if code, _ := doForm(t, http.MethodPut, ts.URL+"/api/cf/nope/string", form); code != http.StatusNotFound {
		t.Fatalf("put unknown family: code=%d", code)
	}
}

func TestServer_BadRequests(t *testing.T) {
	_, ts := newTestServer(t)

	if code, _ := doForm(t, http.MethodPut, ts.URL+"/api/cf/default/string", url.Values{"key": {"k"}}); code != http.StatusBadRequest {
		t.Fatalf("put without value: code=%d", code)
	}
	if code, _ := doGet(t, ts.URL+"/api/cf/default/string"); code != http.StatusBadRequest {
		t.Fatalf("get without key: code=%d", code)
	}
	if code, _ := doForm(t, http.MethodPost, ts.URL+"/api/cf", nil); code != http.StatusBadRequest {
		t.Fatalf("create without name: code=%d", code)
	}
}
