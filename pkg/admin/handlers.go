package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/ztdns/gateway/pkg/bundle"
	"github.com/ztdns/gateway/pkg/security"
	"github.com/ztdns/gateway/pkg/sigconf"
	"github.com/ztdns/gateway/pkg/storage"
	"github.com/ztdns/gateway/pkg/types"
)

// configValidity is how long signed configurations stay valid; it
// mirrors the certificate lifetime.
const configValidity = 10 * 365 * 24 * time.Hour

type createClientRequest struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

type recordSpec struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

type createServiceRequest struct {
	Name        string                  `json:"name"`
	Platform    string                  `json:"platform"`
	BackendHost string                  `json:"backend_host"`
	BackendPort int                     `json:"backend_port"`
	Domains     []string                `json:"domains"`
	Records     map[string][]recordSpec `json:"records,omitempty"`
}

type createResponse struct {
	CN     string `json:"cn"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Bundle string `json:"bundle"`
}

type accessRequest struct {
	CN string `json:"cn"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name is required"))
		return
	}
	if !bundle.ValidPlatform(req.Platform) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown platform: %q", req.Platform))
		return
	}

	issued, err := s.ca.IssueEndpointCertificate(types.EndpointRoleClient, req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ep := &types.Endpoint{
		CN:        issued.CN,
		Name:      req.Name,
		Role:      types.EndpointRoleClient,
		Platform:  req.Platform,
		CreatedAt: time.Now().UTC(),
	}

	// Issuance and registration succeed or fail together
	if err := s.store.CreateEndpoint(ep); err != nil {
		s.ca.RemoveEndpointCertificate(issued.CN)
		writeStoreError(w, err)
		return
	}

	s.logger.Info().
		Str("cn", ep.CN).
		Str("name", ep.Name).
		Msg("client endpoint created")

	writeJSON(w, http.StatusCreated, createResponse{
		CN:     ep.CN,
		Name:   ep.Name,
		Role:   string(ep.Role),
		Bundle: "/v1/bundles/" + ep.CN,
	})
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name is required"))
		return
	}
	if !bundle.ValidPlatform(req.Platform) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown platform: %q", req.Platform))
		return
	}
	if req.BackendHost == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("backend_host is required"))
		return
	}
	if err := types.ValidatePort(req.BackendPort); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	domains := make([]string, 0, len(req.Domains))
	for _, d := range req.Domains {
		if d = types.NormalizeZone(d); d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at least one domain is required"))
		return
	}

	issued, err := s.ca.IssueEndpointCertificate(types.EndpointRoleService, req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ep := &types.Endpoint{
		CN:        issued.CN,
		Name:      req.Name,
		Role:      types.EndpointRoleService,
		Platform:  req.Platform,
		Domains:   domains,
		CreatedAt: time.Now().UTC(),
	}
	route := &types.Route{
		CN:      issued.CN,
		Host:    req.BackendHost,
		Port:    req.BackendPort,
		Domains: domains,
		Name:    req.Name,
	}

	records := s.buildRecords(req.Records)
	zones := make([]*types.Zone, 0, len(domains))
	for _, domain := range domains {
		zones = append(zones, &types.Zone{
			Name:             domain,
			Records:          records,
			ServiceCN:        issued.CN,
			AllowedEndpoints: []string{issued.CN},
		})
	}

	if err := s.store.RegisterService(ep, route, zones); err != nil {
		s.ca.RemoveEndpointCertificate(issued.CN)
		writeStoreError(w, err)
		return
	}

	s.logger.Info().
		Str("cn", ep.CN).
		Str("name", ep.Name).
		Strs("domains", domains).
		Msg("service endpoint created")

	writeJSON(w, http.StatusCreated, createResponse{
		CN:     ep.CN,
		Name:   ep.Name,
		Role:   string(ep.Role),
		Bundle: "/v1/bundles/" + ep.CN,
	})
}

// buildRecords turns the request records into zone records. Private
// zones always resolve to the gateway, so A values are forced to the
// external address; clients reach the real backend only through the
// proxy. An empty record set gets an apex A record.
func (s *Server) buildRecords(specs map[string][]recordSpec) map[string][]types.Record {
	gateway := s.cfg.ExternalAddress

	records := make(map[string][]types.Record)
	for label, recs := range specs {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" {
			continue
		}
		for _, rec := range recs {
			switch types.RecordType(strings.ToUpper(rec.Type)) {
			case types.RecordTypeA:
				records[label] = append(records[label], types.Record{
					Type:  types.RecordTypeA,
					Value: gateway,
				})
			case types.RecordTypeCNAME:
				if rec.Value != "" {
					records[label] = append(records[label], types.Record{
						Type:  types.RecordTypeCNAME,
						Value: types.NormalizeZone(rec.Value),
					})
				}
			}
		}
	}

	if len(records) == 0 {
		records[types.LabelApex] = []types.Record{{Type: types.RecordTypeA, Value: gateway}}
	}
	return records
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	cn := mux.Vars(r)["cn"]

	if err := s.store.DeleteEndpoint(cn); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.ca.RemoveEndpointCertificate(cn); err != nil {
		s.logger.Warn().
			Err(err).
			Str("cn", cn).
			Msg("failed to remove endpoint certificate")
	}

	s.logger.Info().
		Str("cn", cn).
		Msg("endpoint deleted")

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	zone := mux.Vars(r)["zone"]

	var req accessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := s.store.Authorize(zone, req.CN); err != nil {
		writeStoreError(w, err)
		return
	}

	s.logger.Info().
		Str("zone", zone).
		Str("cn", req.CN).
		Msg("endpoint authorized")

	writeJSON(w, http.StatusOK, map[string]bool{"authorized": true})
}

func (s *Server) handleDeauthorize(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.store.Deauthorize(vars["zone"], vars["cn"]); err != nil {
		writeStoreError(w, err)
		return
	}

	s.logger.Info().
		Str("zone", vars["zone"]).
		Str("cn", vars["cn"]).
		Msg("endpoint deauthorized")

	writeJSON(w, http.StatusOK, map[string]bool{"authorized": false})
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.store.ListEndpoints()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.store.ListZones()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, zones)
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.store.ListRoutes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleDownloadBundle(w http.ResponseWriter, r *http.Request) {
	cn := mux.Vars(r)["cn"]

	ep, err := s.store.GetEndpoint(cn)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	certPEM, keyPEM, err := s.ca.EndpointCertPEM(cn)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	token, err := sigconf.Sign(&sigconf.Payload{
		Server:     s.cfg.DoTAddress(),
		Proxy:      s.cfg.ProxyAddress(),
		ServerName: security.ServerName,
		Type:       string(ep.Role),
		Domains:    ep.Domains,
		Expires:    time.Now().Add(configValidity).UTC().Truncate(time.Second),
	}, s.ca.CAKey())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s-%s.zip", cn, ep.Role))

	err = s.bundles.Build(w, &bundle.Input{
		Endpoint:  ep,
		CertPEM:   certPEM,
		KeyPEM:    keyPEM,
		CAPEM:     s.ca.CACertPEM(),
		Token:     token,
		DoTAddr:   s.cfg.DoTAddress(),
		ProxyAddr: s.cfg.ProxyAddress(),
	})
	if err != nil {
		// Headers are gone; all we can do is log
		s.logger.Error().
			Err(err).
			Str("cn", cn).
			Msg("bundle assembly failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeStoreError maps store failures onto HTTP statuses. A flush
// failure reports 500 with the in-memory state already rolled back.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrExists):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
