package cfddns_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Travis-Britz/cfddns"
)

const testToken = "test-token-0123456789"

// newAPI starts a test server for the Cloudflare API and returns a client pointed at it.
// handlers are keyed by "METHOD /path" relative to /client/v4.
func newAPI(t *testing.T, handlers map[string]http.HandlerFunc) *cfddns.Cloudflare {
	t.Helper()
	mux := http.NewServeMux()
	for route, h := range handlers {
		route, h := route, h
		method, path, _ := strings.Cut(route, " ")
		mux.HandleFunc("/client/v4"+path, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method {
				t.Errorf("unexpected method %s for %s", r.Method, route)
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
				t.Errorf("unexpected authorization header: %s", got)
			}
			w.Header().Set("Content-Type", "application/json")
			h(w, r)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cf, err := cfddns.NewCloudflare(testToken,
		cfddns.CloudflareBaseURL(srv.URL+"/client/v4"),
		cfddns.CloudflareHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return cf
}

func reply(body string) http.HandlerFunc {
	return replyStatus(http.StatusOK, body)
}

func replyStatus(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

const zonesBody = `{
	"success": true, "errors": [], "messages": [],
	"result": [
		{"id": "z000", "name": "example.org"},
		{"id": "z123", "name": "example.com"},
		{"id": "z999", "name": "sub.example.com"}
	]
}`

const recordsBody = `{
	"success": true, "errors": [], "messages": [],
	"result": [
		{"id": "r1", "type": "A", "name": "example.com", "content": "198.51.100.1", "ttl": 1, "proxied": true},
		{"id": "r2", "type": "A", "name": "home.example.com", "content": "1.2.3.4", "ttl": 120, "proxied": false},
		{"id": "r3", "type": "CNAME", "name": "www.example.com", "content": "example.com", "ttl": 1, "proxied": true}
	]
}`

func TestZoneID(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones": reply(zonesBody)})

	id, err := cf.ZoneID(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, cfddns.ZoneID("z123"), id)
}

func TestZoneIDNoMatch(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones": reply(zonesBody)})

	_, err := cf.ZoneID(context.Background(), "example.net")
	require.Error(t, err)
	assert.ErrorIs(t, err, cfddns.ErrNoMatch)
	assert.NotErrorIs(t, err, cfddns.ErrAmbiguous)
	assert.Contains(t, err.Error(), "no matching zone")
}

func TestZoneIDAmbiguous(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones": reply(`{
		"success": true,
		"result": [{"id": "a", "name": "example.com"}, {"id": "b", "name": "example.com"}]
	}`)})

	id, err := cf.ZoneID(context.Background(), "example.com")
	require.Error(t, err, "must not silently select the first of several matches")
	assert.Empty(t, id)
	assert.ErrorIs(t, err, cfddns.ErrAmbiguous)

	var me *cfddns.MatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 2, me.Count)
	assert.Equal(t, "zone", me.Kind)
}

func TestZoneIDEnvelopeFailureWithOKStatus(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones": reply(`{
		"success": false,
		"errors": [{"code": 9109, "message": "Invalid access token"}],
		"messages": [],
		"result": null
	}`)})

	_, err := cf.ZoneID(context.Background(), "example.com")
	require.Error(t, err)

	var apiErr *cfddns.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Len(t, apiErr.Errors, 1)
	assert.Equal(t, 9109, apiErr.Errors[0].Code)
	assert.Contains(t, err.Error(), "Invalid access token")
}

func TestHTTPStatusTakesPrecedence(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones": replyStatus(http.StatusForbidden, `{
		"success": false,
		"errors": [{"code": 10000, "message": "Authentication error"}]
	}`)})

	_, err := cf.ZoneID(context.Background(), "example.com")
	require.Error(t, err)

	var se *cfddns.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Contains(t, err.Error(), "Authentication error")

	var apiErr *cfddns.APIError
	assert.False(t, errors.As(err, &apiErr), "status errors are reported before the envelope is interpreted")
}

func TestStatusErrorWithoutEnvelope(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones": replyStatus(http.StatusBadGateway, `<html>bad gateway</html>`)})

	_, err := cf.ZoneID(context.Background(), "example.com")
	var se *cfddns.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Empty(t, se.Messages)
}

func TestDecodeErrors(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `not a json`,
		"wrong shape":  `{"success": true, "result": {"id": "z123"}}`,
		"invalid utf8": "{\"success\": true, \"result\": [{\"id\": \"z1\", \"name\": \"\xff\"}]}",
	} {
		t.Run(name, func(t *testing.T) {
			cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones": reply(body)})
			_, err := cf.ZoneID(context.Background(), "example.com")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "error decoding response")
		})
	}
}

func TestTokenNotInErrors(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones": replyStatus(http.StatusUnauthorized, `{"success":false,"errors":[{"code":1000,"message":"bad token"}]}`)})

	_, err := cf.ZoneID(context.Background(), "example.com")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)
}

func TestZoneIDPagination(t *testing.T) {
	var pages []string
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones": func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		switch page {
		case "1":
			io.WriteString(w, `{"success":true,"result":[{"id":"z1","name":"a.com"}],"result_info":{"page":1,"per_page":1,"total_pages":2}}`)
		case "2":
			io.WriteString(w, `{"success":true,"result":[{"id":"z2","name":"b.com"}],"result_info":{"page":2,"per_page":1,"total_pages":2}}`)
		default:
			t.Errorf("unexpected page %q", page)
		}
	}})

	id, err := cf.ZoneID(context.Background(), "b.com")
	require.NoError(t, err)
	assert.Equal(t, cfddns.ZoneID("z2"), id)
	assert.Equal(t, []string{"1", "2"}, pages)
}

func TestRecord(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones/z123/dns_records": reply(recordsBody)})

	r, err := cf.Record(context.Background(), "z123", "example.com", "home.example.com")
	require.NoError(t, err)
	assert.Equal(t, cfddns.Record{
		ID:      "r2",
		Type:    "A",
		Name:    "home.example.com",
		Content: netip.MustParseAddr("1.2.3.4"),
		TTL:     120,
		Proxied: false,
	}, r)
}

func TestRecordNoMatch(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones/z123/dns_records": reply(recordsBody)})

	_, err := cf.Record(context.Background(), "z123", "example.com", "office.example.com")
	assert.ErrorIs(t, err, cfddns.ErrNoMatch)
	assert.Contains(t, err.Error(), "example.com")
}

func TestRecordAmbiguous(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones/z123/dns_records": reply(`{
		"success": true,
		"result": [
			{"id": "r1", "type": "A", "name": "home.example.com", "content": "1.2.3.4", "ttl": 1, "proxied": false},
			{"id": "r2", "type": "AAAA", "name": "home.example.com", "content": "2001:db8::1", "ttl": 1, "proxied": false}
		]
	}`)})

	_, err := cf.Record(context.Background(), "z123", "example.com", "home.example.com")
	assert.ErrorIs(t, err, cfddns.ErrAmbiguous)
}

func TestRecordInvalidContent(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones/z123/dns_records": reply(`{
		"success": true,
		"result": [{"id": "r1", "type": "A", "name": "home.example.com", "content": "not-an-ip", "ttl": 1, "proxied": false}]
	}`)})

	r, err := cf.Record(context.Background(), "z123", "example.com", "home.example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, cfddns.ErrInvalidContent)
	assert.NotErrorIs(t, err, cfddns.ErrNoMatch)
	assert.NotErrorIs(t, err, cfddns.ErrAmbiguous)
	assert.False(t, r.Content.IsValid(), "content must not default to some address")
}

func TestRecordEnvelopeFailure(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /zones/z123/dns_records": reply(`{
		"success": false,
		"errors": [],
		"messages": [{"code": 0, "message": "zone is being migrated"}]
	}`)})

	_, err := cf.Record(context.Background(), "z123", "example.com", "home.example.com")
	var apiErr *cfddns.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, err.Error(), "zone is being migrated")
}

func TestUpdateRecord(t *testing.T) {
	var got map[string]any
	calls := 0
	cf := newAPI(t, map[string]http.HandlerFunc{"PUT /zones/z123/dns_records/r2": func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"success":true,"errors":[],"messages":[],"result":{"id":"r2"}}`)
	}})

	record := cfddns.Record{
		ID:      "r2",
		Type:    "A",
		Name:    "home.example.com",
		Content: netip.MustParseAddr("1.2.3.5"),
		TTL:     120,
		Proxied: true,
	}
	require.NoError(t, cf.UpdateRecord(context.Background(), "z123", "r2", record))
	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]any{
		"id":      "r2",
		"type":    "A",
		"name":    "home.example.com",
		"content": "1.2.3.5",
		"ttl":     float64(120),
		"proxied": true,
	}, got)
}

func TestUpdateRecordEnvelopeFailure(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"PUT /zones/z123/dns_records/r2": reply(`{
		"success": false,
		"errors": [{"code": 81058, "message": "An identical record already exists."}]
	}`)})

	err := cf.UpdateRecord(context.Background(), "z123", "r2", cfddns.Record{
		ID: "r2", Type: "A", Name: "home.example.com", Content: netip.MustParseAddr("1.2.3.5"),
	})
	var apiErr *cfddns.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.MethodPut, apiErr.Method)
}

func TestUpdateRecordStatusError(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"PUT /zones/z123/dns_records/r2": replyStatus(http.StatusBadRequest, `{"success":false,"errors":[{"code":1004,"message":"DNS Validation Error"}]}`)})

	err := cf.UpdateRecord(context.Background(), "z123", "r2", cfddns.Record{
		ID: "r2", Type: "A", Name: "home.example.com", Content: netip.MustParseAddr("1.2.3.5"),
	})
	var se *cfddns.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestVerifyToken(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /user/tokens/verify": reply(`{
		"success": true, "errors": [], "messages": [],
		"result": {"id": "ed17574386854bf78a67040be0a770b0", "status": "active"}
	}`)})
	assert.NoError(t, cf.VerifyToken(context.Background()))
}

func TestVerifyTokenInactive(t *testing.T) {
	cf := newAPI(t, map[string]http.HandlerFunc{"GET /user/tokens/verify": reply(`{
		"success": true, "errors": [], "messages": [],
		"result": {"id": "ed17574386854bf78a67040be0a770b0", "status": "disabled"}
	}`)})
	assert.ErrorContains(t, cf.VerifyToken(context.Background()), "disabled")
}

func TestNewCloudflareRequiresToken(t *testing.T) {
	_, err := cfddns.NewCloudflare("")
	assert.Error(t, err)

	_, err = cfddns.NewCloudflare(testToken, cfddns.CloudflareBaseURL("ftp://example.com"))
	assert.Error(t, err)
}
