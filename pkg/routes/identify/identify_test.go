package identify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/platform/middleware"
	"github.com/Ramsey-B/fern/internal/repositories/contact"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestServer(service Identifier) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(testLogger())
	e.Use(middleware.Context())
	NewHandler(service, testLogger()).RegisterRoutes(e.Group("/api"))
	return e
}

func post(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/identify", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestIdentify_Flow(t *testing.T) {
	store := contact.NewMemoryStore(testLogger())
	e := newTestServer(identity.NewService(store, testLogger()))

	rec := post(e, `{"email":"Lorraine@HillValley.edu","phoneNumber":"123456"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"contact":{"primaryContactId":1,"emails":["lorraine@hillvalley.edu"],"phoneNumbers":["123456"],"secondaryContactIds":[]}}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = post(e, `{"email":"mcfly@hillvalley.edu","phoneNumber":123456}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.IdentifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Contact.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, resp.Contact.Emails)
	assert.Equal(t, []int64{2}, resp.Contact.SecondaryContactIDs)
}

func TestIdentify_BadRequests(t *testing.T) {
	e := newTestServer(identity.NewService(contact.NewMemoryStore(testLogger()), testLogger()))

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"no identifiers", `{}`, identity.ErrInvalidRequest.Error()},
		{"empty identifiers", `{"email":"","phoneNumber":""}`, identity.ErrInvalidRequest.Error()},
		{"null identifiers", `{"email":null,"phoneNumber":null}`, identity.ErrInvalidRequest.Error()},
		{"malformed json", `{"email":`, "invalid request body"},
		{"phone is an object", `{"phoneNumber":{"n":1}}`, "invalid request body"},
		{"email too long", `{"email":"` + strings.Repeat("a", 321) + `"}`, "invalid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(e, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body middleware.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Message, tt.message)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

type stubIdentifier struct {
	err error
}

func (s stubIdentifier) Identify(context.Context, string, string) (models.Summary, error) {
	return models.Summary{}, s.err
}

func TestIdentify_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"conflict", identity.ErrConflict, http.StatusConflict},
		{"transient", identity.ErrTransient, http.StatusServiceUnavailable},
		{"dangling link", identity.NotFound(7), http.StatusInternalServerError},
		{"corrupt chain", identity.ErrCorruptChain, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(newTestServer(stubIdentifier{err: tt.err}), `{"email":"a@x.io"}`)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
