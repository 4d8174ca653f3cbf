package admin

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ztdns/gateway/pkg/config"
	"github.com/ztdns/gateway/pkg/security"
	"github.com/ztdns/gateway/pkg/sigconf"
	"github.com/ztdns/gateway/pkg/storage"
	"github.com/ztdns/gateway/pkg/types"
)

type testAPI struct {
	server *Server
	store  *storage.FileStore
	ca     *security.CertAuthority
	cfg    *config.Config
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	dir := t.TempDir()

	store, err := storage.NewFileStore(dir)
	require.NoError(t, err)

	ca := security.NewCertAuthority(dir)
	require.NoError(t, ca.Bootstrap("203.0.113.7"))

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.ExternalAddress = "203.0.113.7"

	// Fake endpoint binaries so bundle assembly has something to ship
	binDir := filepath.Join(dir, "binaries")
	require.NoError(t, os.MkdirAll(binDir, 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(binDir, "ztendpoint-linux-amd64"), []byte("#!fake\n"), 0755))

	return &testAPI{
		server: NewServer(store, ca, cfg),
		store:  store,
		ca:     ca,
		cfg:    cfg,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.server.Router().ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) createClient(t *testing.T, name string) string {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/v1/clients", map[string]interface{}{
		"name":     name,
		"platform": "linux-x64",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, types.ValidCN(resp.CN))
	return resp.CN
}

func (a *testAPI) createService(t *testing.T) string {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/v1/services", map[string]interface{}{
		"name":         "pg-prod",
		"platform":     "linux-x64",
		"backend_host": "10.10.10.50",
		"backend_port": 5432,
		"domains":      []string{"db.internal.corp"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.CN, "s"))
	return resp.CN
}

func TestCreateClient(t *testing.T) {
	api := newTestAPI(t)

	cn := api.createClient(t, "alice")

	ep, err := api.store.GetEndpoint(cn)
	require.NoError(t, err)
	require.Equal(t, "alice", ep.Name)
	require.Equal(t, types.EndpointRoleClient, ep.Role)

	// Credentials were persisted alongside registration
	certPEM, _, err := api.ca.EndpointCertPEM(cn)
	require.NoError(t, err)
	require.Contains(t, string(certPEM), "BEGIN CERTIFICATE")
}

func TestCreateClientValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/clients", map[string]interface{}{
		"name": "", "platform": "linux-x64",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/clients", map[string]interface{}{
		"name": "alice", "platform": "beos-ppc",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateServiceCreatesRouteAndZone(t *testing.T) {
	api := newTestAPI(t)

	cn := api.createService(t)

	route, err := api.store.GetRoute(cn)
	require.NoError(t, err)
	require.Equal(t, "10.10.10.50", route.Host)
	require.Equal(t, 5432, route.Port)

	zone, err := api.store.GetZone("db.internal.corp")
	require.NoError(t, err)
	require.Equal(t, cn, zone.ServiceCN)
	require.Equal(t, []string{cn}, zone.AllowedEndpoints)

	// Default records resolve the apex to the gateway address
	require.Len(t, zone.Records["@"], 1)
	require.Equal(t, types.RecordTypeA, zone.Records["@"][0].Type)
	require.Equal(t, "203.0.113.7", zone.Records["@"][0].Value)
}

func TestServiceRecordsPointAtGateway(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/services", map[string]interface{}{
		"name":         "pg-prod",
		"platform":     "linux-x64",
		"backend_host": "10.10.10.50",
		"backend_port": 5432,
		"domains":      []string{"db.internal.corp"},
		"records": map[string]interface{}{
			"replica": []map[string]string{{"type": "A", "value": "10.10.10.51"}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	zone, err := api.store.GetZone("db.internal.corp")
	require.NoError(t, err)

	// The requested A value is replaced with the gateway address:
	// clients must only ever learn the gateway.
	require.Len(t, zone.Records["replica"], 1)
	require.Equal(t, "203.0.113.7", zone.Records["replica"][0].Value)
}

func TestAuthorizeAndDeauthorize(t *testing.T) {
	api := newTestAPI(t)

	api.createService(t)
	clientCN := api.createClient(t, "alice")

	rec := api.do(t, http.MethodPost, "/v1/zones/db.internal.corp/access",
		map[string]string{"cn": clientCN})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	zone, err := api.store.GetZone("db.internal.corp")
	require.NoError(t, err)
	require.True(t, zone.Allowed(clientCN))

	rec = api.do(t, http.MethodDelete, "/v1/zones/db.internal.corp/access/"+clientCN, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	zone, err = api.store.GetZone("db.internal.corp")
	require.NoError(t, err)
	require.False(t, zone.Allowed(clientCN))

	// Unknown zone is a 404
	rec = api.do(t, http.MethodPost, "/v1/zones/nope.example/access",
		map[string]string{"cn": clientCN})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteEndpointCascades(t *testing.T) {
	api := newTestAPI(t)

	svcCN := api.createService(t)

	rec := api.do(t, http.MethodDelete, "/v1/endpoints/"+svcCN, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := api.store.GetZone("db.internal.corp")
	require.Error(t, err)
	_, err = api.store.GetRoute(svcCN)
	require.Error(t, err)

	// Certificate files are gone too
	_, _, err = api.ca.EndpointCertPEM(svcCN)
	require.Error(t, err)

	rec = api.do(t, http.MethodDelete, "/v1/endpoints/"+svcCN, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEndpoints(t *testing.T) {
	api := newTestAPI(t)

	api.createClient(t, "alice")
	api.createService(t)

	rec := api.do(t, http.MethodGet, "/v1/endpoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var eps []*types.Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eps))
	require.Len(t, eps, 2)

	rec = api.do(t, http.MethodGet, "/v1/zones", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodGet, "/v1/routes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBundleDownload(t *testing.T) {
	api := newTestAPI(t)

	cn := api.createClient(t, "alice")

	rec := api.do(t, http.MethodGet, "/v1/bundles/"+cn, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

	body := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)

	entries := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data := new(bytes.Buffer)
		_, err = data.ReadFrom(rc)
		rc.Close()
		require.NoError(t, err)
		entries[f.Name] = data.Bytes()
	}

	for _, name := range []string{
		"ztendpoint-linux-amd64", "endpoint.crt", "endpoint.key", "ca.crt", "config.zt", "README.txt",
	} {
		require.Contains(t, entries, name)
	}

	// The signed configuration verifies against the bundled CA and
	// binds the gateway addresses
	caCert, err := security.ParseCertPEM(entries["ca.crt"])
	require.NoError(t, err)
	payload, err := sigconf.Verify(string(entries["config.zt"]), caCert)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7:853", payload.Server)
	require.Equal(t, "203.0.113.7:8443", payload.Proxy)
	require.Equal(t, security.ServerName, payload.ServerName)
	require.Equal(t, "client", payload.Type)

	// Unknown CN is a 404
	rec = api.do(t, http.MethodGet, "/v1/bundles/c000000000000f", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
