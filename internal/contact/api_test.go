package contact

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dhawalhost/contactguard/internal/enforce"
	"github.com/dhawalhost/contactguard/internal/identity"
	"github.com/dhawalhost/contactguard/internal/pdp"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var testSecret = []byte("yoursecret")

// policyServer is a decision point speaking the check resources API. Admins
// may do anything, users may create and may read, list and update the
// contacts they own.
type policyServer struct {
	calls int32
}

type checkRequest struct {
	RequestID string `json:"requestId"`
	Principal struct {
		ID    string   `json:"id"`
		Roles []string `json:"roles"`
	} `json:"principal"`
	Resources []struct {
		Actions  []string `json:"actions"`
		Resource struct {
			Kind string         `json:"kind"`
			ID   string         `json:"id"`
			Attr map[string]any `json:"attr"`
		} `json:"resource"`
	} `json:"resources"`
}

func (p *policyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&p.calls, 1)
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	roles := map[string]bool{}
	for _, role := range req.Principal.Roles {
		roles[role] = true
	}

	results := make([]map[string]any, 0, len(req.Resources))
	for _, entry := range req.Resources {
		owner, _ := entry.Resource.Attr["owner_id"].(string)
		actions := map[string]string{}
		for _, action := range entry.Actions {
			allowed := roles["admin"]
			switch action {
			case "create":
				allowed = allowed || roles["user"]
			case "read", "list", "update":
				allowed = allowed || (roles["user"] && owner == req.Principal.ID)
			}
			effect := "EFFECT_DENY"
			if allowed {
				effect = "EFFECT_ALLOW"
			}
			actions[action] = effect
		}
		results = append(results, map[string]any{
			"resource": map[string]string{"kind": entry.Resource.Kind, "id": entry.Resource.ID},
			"actions":  actions,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"requestId": req.RequestID, "results": results})
}

type testEnv struct {
	router *gin.Engine
	policy *policyServer
	pdpSrv *httptest.Server
}

func newTestEnv(t *testing.T, store Store, opts ...enforce.Option) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	policy := &policyServer{}
	pdpSrv := httptest.NewServer(policy)
	t.Cleanup(pdpSrv.Close)

	client, err := pdp.New(pdp.Config{URL: pdpSrv.URL, Timeout: 2 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("new pdp client: %v", err)
	}
	verifier, err := identity.NewHMACVerifier(testSecret, identity.Options{})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	r := gin.New()
	handler := NewHTTPHandler(enforce.NewOrchestrator[Contact](store, client, zap.NewNop(), opts...), zap.NewNop())
	handler.RegisterRoutes(r, identity.Middleware(verifier, zap.NewNop()))
	return &testEnv{router: r, policy: policy, pdpSrv: pdpSrv}
}

func (e *testEnv) do(t *testing.T, method, path string, claims jwt.MapClaims) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if claims != nil {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) pdpCalls() int32 {
	return atomic.LoadInt32(&e.policy.calls)
}

func mustStore(t *testing.T, contacts ...Contact) Store {
	t.Helper()
	s, err := NewMemoryStore(contacts)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func errorBody(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", resp.Body.String(), err)
	}
	return body["error"]
}

var (
	alice = jwt.MapClaims{"id": "alice", "roles": []string{"user"}, "department": "sales"}
	admin = jwt.MapClaims{"id": "root", "roles": []string{"admin"}}
	guest = jwt.MapClaims{"id": "guest"}

	aliceContact = Contact{ID: "1", FirstName: "Ada", OwnerID: "alice", Active: true, Tags: pq.StringArray{"vip"}}
	bobContact   = Contact{ID: "2", FirstName: "Bo", OwnerID: "bob"}
	aliceSecond  = Contact{ID: "3", FirstName: "Cy", OwnerID: "alice"}
	bobContact42 = Contact{ID: "42", FirstName: "Di", OwnerID: "bob"}
)

func TestGetContactDeniedIsForbidden(t *testing.T) {
	env := newTestEnv(t, mustStore(t, bobContact42))

	resp := env.do(t, http.MethodGet, "/contacts/42", alice)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if got := errorBody(t, resp); got != "Unauthorized" {
		t.Fatalf("unexpected error message %q", got)
	}
	if strings.Contains(resp.Body.String(), "Di") {
		t.Fatalf("forbidden response leaked the record: %s", resp.Body.String())
	}
}

func TestGetContactMissingSkipsDecisionPoint(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact))

	resp := env.do(t, http.MethodGet, "/contacts/99", alice)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if got := errorBody(t, resp); got != "Contact not found" {
		t.Fatalf("unexpected error message %q", got)
	}
	if env.pdpCalls() != 0 {
		t.Fatalf("decision point must not be called, got %d calls", env.pdpCalls())
	}
}

func TestGetContactAllowedReturnsRecord(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact))

	resp := env.do(t, http.MethodGet, "/contacts/1", alice)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got Contact
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != "1" || got.FirstName != "Ada" || len(got.Tags) != 1 {
		t.Fatalf("unexpected contact: %+v", got)
	}
}

func TestListContactsKeepsAllowedInOrder(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact, bobContact, aliceSecond))

	resp := env.do(t, http.MethodGet, "/contacts", alice)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got []Contact
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("expected contacts 1 and 3, got %+v", got)
	}
	if env.pdpCalls() != 1 {
		t.Fatalf("expected a single decision call, got %d", env.pdpCalls())
	}
}

func TestListContactsNothingAllowedIsEmptyArray(t *testing.T) {
	env := newTestEnv(t, mustStore(t, bobContact))

	resp := env.do(t, http.MethodGet, "/contacts", guest)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if strings.TrimSpace(resp.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", resp.Body.String())
	}
}

func TestCreateContactAllowed(t *testing.T) {
	env := newTestEnv(t, mustStore(t))

	resp := env.do(t, http.MethodPost, "/contacts/new", alice)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got ResultResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Result != "Created contact" {
		t.Fatalf("unexpected result %q", got.Result)
	}
}

func TestCreateContactDeniedWithoutRole(t *testing.T) {
	env := newTestEnv(t, mustStore(t))

	resp := env.do(t, http.MethodPost, "/contacts/new", guest)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestUpdateContactUsesItsOwnDecision(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact, bobContact))

	resp := env.do(t, http.MethodPatch, "/contacts/1", alice)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got ResultResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Result != "Updated contact 1" {
		t.Fatalf("unexpected result %q", got.Result)
	}

	resp = env.do(t, http.MethodPatch, "/contacts/2", alice)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a contact alice does not own, got %d", resp.Code)
	}
}

func TestDeleteContact(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact))

	if resp := env.do(t, http.MethodDelete, "/contacts/1", alice); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-admin, got %d", resp.Code)
	}

	resp := env.do(t, http.MethodDelete, "/contacts/1", admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got ResultResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Result != "Contact 1 deleted" {
		t.Fatalf("unexpected result %q", got.Result)
	}

	if resp := env.do(t, http.MethodDelete, "/contacts/77", admin); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestDecisionPointDownIsUnavailable(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact))
	env.pdpSrv.Close()

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/contacts/1"},
		{http.MethodPost, "/contacts/new"},
		{http.MethodPatch, "/contacts/1"},
		{http.MethodDelete, "/contacts/1"},
		{http.MethodGet, "/contacts"},
	}
	for _, tc := range requests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp := env.do(t, tc.method, tc.path, admin)
			if resp.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503, got %d", resp.Code)
			}
			if got := errorBody(t, resp); got != "authorization service unavailable" {
				t.Fatalf("unexpected error message %q", got)
			}
		})
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact))

	resp := env.do(t, http.MethodGet, "/contacts/1", nil)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if env.pdpCalls() != 0 {
		t.Fatalf("decision point must not be called without credentials")
	}
}

func TestTokenWithoutIDIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact))

	resp := env.do(t, http.MethodGet, "/contacts/1", jwt.MapClaims{"roles": []string{"admin"}})

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if env.pdpCalls() != 0 {
		t.Fatalf("decision point must not be called for an invalid principal")
	}
}

func TestStructuredClaimIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact))

	resp := env.do(t, http.MethodGet, "/contacts/1", jwt.MapClaims{
		"id":           "alice",
		"roles":        []string{"user"},
		"realm_access": map[string]any{"roles": []string{"x"}},
	})

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if env.pdpCalls() != 0 {
		t.Fatalf("decision point must not be called for an invalid principal")
	}
}

func TestForbiddenFirstHidesMissingContacts(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact), enforce.WithPrecedence(enforce.ForbiddenFirst))

	if resp := env.do(t, http.MethodGet, "/contacts/99", alice); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a missing contact, got %d", resp.Code)
	}
	if resp := env.do(t, http.MethodGet, "/contacts/99", admin); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 once the caller may read it, got %d", resp.Code)
	}
}

func TestInvalidContactID(t *testing.T) {
	env := newTestEnv(t, mustStore(t, aliceContact))

	resp := env.do(t, http.MethodGet, "/contacts/"+strings.Repeat("x", 200), alice)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

type failingStore struct{}

func (failingStore) FindOne(context.Context, string) (Contact, error) {
	return Contact{}, errors.New("connection reset")
}

func (failingStore) Find(context.Context) ([]Contact, error) {
	return nil, errors.New("connection reset")
}

func (failingStore) HealthCheck(context.Context) error {
	return errors.New("connection reset")
}

func TestStoreFailureIsInternalError(t *testing.T) {
	env := newTestEnv(t, failingStore{})

	resp := env.do(t, http.MethodGet, "/contacts", alice)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "connection reset") {
		t.Fatalf("internal error leaked: %s", resp.Body.String())
	}
}
