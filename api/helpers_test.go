package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/store/memory"
	"github.com/warp/leave-ledger/timeoff"
)

const testSecret = "test-secret"

var paris = mustLocation("Europe/Paris")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(s string) time.Time {
	t, err := time.ParseInLocation(localLayout, s, paris)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

type testServer struct {
	handler *Handler
	router  *chi.Mux
	store   *memory.Store
}

// newTestServer builds the real router over a memory store. The clock is
// fixed on Monday 2024-05-27 10:00 in Paris.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	h := NewHandler(store, Options{
		Policy:      timeoff.DefaultPolicy(),
		Location:    paris,
		JWTSecret:   testSecret,
		DevTokens:   true,
		CORSOrigins: []string{"http://localhost:5173"},
	})
	now := func() time.Time { return at("2024-05-27T10:00") }
	h.Now = now
	h.Requests.Now = now
	return &testServer{handler: h, router: NewRouter(h), store: store}
}

// seed opens hr, alice (10 days, 5 hours) and bob.
func (s *testServer) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []generic.Employee{
		{ID: "hr", Name: "Hannah HR", Role: generic.RoleHR},
		{ID: "alice", Name: "Alice", LeaveDays: dec("10"), OvertimeHours: dec("5")},
		{ID: "bob", Name: "Bob"},
	} {
		_, err := s.handler.Ledger.OpenAccount(ctx, e, "hr")
		require.NoError(t, err)
	}
}

func token(t *testing.T, id string, role generic.Role) string {
	t.Helper()
	tok, err := IssueToken(testSecret, Claims{EmployeeID: generic.EmployeeID(id), Role: role}, time.Now(), time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a request as the given actor; an empty actor sends no token.
func (s *testServer) do(t *testing.T, method, path string, body any, actor string, role generic.Role) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, actor, role))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) asHR(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, "hr", generic.RoleHR)
}

func (s *testServer) as(t *testing.T, actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, actor, generic.RoleEmployee)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
