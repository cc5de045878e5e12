package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/dealroom/internal/auth"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/policy"
	"github.com/vadim/dealroom/internal/domain/deal/seed"
	"github.com/vadim/dealroom/internal/httpx/middleware"
)

func newDealRouter(t *testing.T, id *auth.Identity) http.Handler {
	t.Helper()
	fixture, err := seed.Default()
	if err != nil {
		t.Fatalf("loading fixture: %v", err)
	}
	p := policy.New(policy.Deps{
		Seed:   fixture,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	r := chi.NewRouter()
	if id != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(middleware.WithIdentity(req.Context(), *id)))
			})
		})
	}
	NewDealHandler(p, 0).RegisterRoutes(r)
	return r
}

func buyerRouter(t *testing.T) http.Handler {
	return newDealRouter(t, &auth.Identity{UserID: "buyer-1", Role: entity.RoleBuyer})
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type failureResponse struct {
	Error     string            `json:"error"`
	Kind      string            `json:"kind"`
	Fields    map[string]string `json:"fields"`
	Retryable bool              `json:"retryable"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
}

func TestDealHandler_RequiresIdentity(t *testing.T) {
	r := newDealRouter(t, nil)

	rec := do(r, http.MethodGet, "/conversations/", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestDealHandler_UnknownRole(t *testing.T) {
	r := newDealRouter(t, &auth.Identity{UserID: "u1", Role: "broker"})

	rec := do(r, http.MethodGet, "/conversations/", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestDealHandler_ListConversations(t *testing.T) {
	r := buyerRouter(t)

	rec := do(r, http.MethodGet, "/conversations/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp ListConversationsResponse
	decode(t, rec, &resp)
	if resp.Total != 3 || len(resp.Conversations) != 3 {
		t.Errorf("expected 3 conversations, got %d", resp.Total)
	}

	rec = do(r, http.MethodGet, "/conversations/?archived=true", "")
	decode(t, rec, &resp)
	if resp.Total != 0 {
		t.Errorf("expected no archived conversations, got %d", resp.Total)
	}

	rec = do(r, http.MethodGet, "/conversations/?archived=maybe", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDealHandler_GetConversationNotFound(t *testing.T) {
	rec := do(buyerRouter(t), http.MethodGet, "/conversations/404", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp failureResponse
	decode(t, rec, &resp)
	if resp.Kind != "not_found" || resp.Retryable {
		t.Errorf("unexpected failure %+v", resp)
	}
}

func TestDealHandler_Messages(t *testing.T) {
	r := buyerRouter(t)

	rec := do(r, http.MethodPost, "/conversations/2/messages", `{"text":"Hello"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var msg entity.Message
	decode(t, rec, &msg)
	if msg.Content != "Hello" || msg.SenderID != "buyer-1" {
		t.Errorf("unexpected message %+v", msg)
	}

	rec = do(r, http.MethodGet, "/conversations/2/messages", "")
	var list MessagesResponse
	decode(t, rec, &list)
	if n := len(list.Messages); n == 0 || list.Messages[n-1].Content != "Hello" {
		t.Errorf("sent message not listed last: %+v", list.Messages)
	}

	rec = do(r, http.MethodPost, "/conversations/2/messages", `{"text":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}

	rec = do(r, http.MethodPost, "/conversations/2/messages", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDealHandler_SelectAndRead(t *testing.T) {
	r := buyerRouter(t)

	rec := do(r, http.MethodGet, "/conversations/selected", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 before selecting", rec.Code)
	}

	rec = do(r, http.MethodPost, "/conversations/1/select", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = do(r, http.MethodGet, "/conversations/selected", "")
	var sel SelectedResponse
	decode(t, rec, &sel)
	if sel.Conversation.ID != "1" || len(sel.Messages) == 0 {
		t.Errorf("unexpected selection %+v", sel)
	}

	rec = do(r, http.MethodPost, "/conversations/1/read", "")
	var marked map[string]int
	decode(t, rec, &marked)
	if marked["marked"] != 1 {
		t.Errorf("expected one message marked, got %v", marked)
	}

	rec = do(r, http.MethodPost, "/messages/unknown/read", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDealHandler_PinRequiresValue(t *testing.T) {
	r := buyerRouter(t)

	rec := do(r, http.MethodPost, "/conversations/2/pin", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = do(r, http.MethodPost, "/conversations/2/pin", `{"value":true}`)
	var conv entity.Conversation
	decode(t, rec, &conv)
	if !conv.IsPinned {
		t.Error("conversation not pinned")
	}
}

func TestDealHandler_SetStatus(t *testing.T) {
	r := buyerRouter(t)

	rec := do(r, http.MethodPatch, "/conversations/2/status", `{"status":"  "}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var fail failureResponse
	decode(t, rec, &fail)
	if fail.Fields["status"] == "" {
		t.Errorf("expected status field error, got %+v", fail)
	}

	rec = do(r, http.MethodPatch, "/conversations/2/status", `{"status":"awaiting teaser"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var conv entity.Conversation
	decode(t, rec, &conv)
	if conv.Status != "awaiting teaser" {
		t.Errorf("status not updated: %q", conv.Status)
	}

	rec = do(r, http.MethodPatch, "/conversations/404/status", `{"status":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDealHandler_MarkOwnMessageRead(t *testing.T) {
	r := buyerRouter(t)

	// the first seeded message was sent by the viewer
	rec := do(r, http.MethodPost, "/messages/01HS0A1B2C3D4E5F6G7H8J9K0A/read", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var fail failureResponse
	decode(t, rec, &fail)
	if fail.Kind != "conflict" || fail.Retryable {
		t.Errorf("unexpected failure %+v", fail)
	}
}

func TestDealHandler_PerformActionWithNote(t *testing.T) {
	r := buyerRouter(t)

	rec := do(r, http.MethodPost, "/conversations/2/actions/request_nda", `{"note":"Sending our standard NDA"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var out ActionResponse
	decode(t, rec, &out)
	if out.Message == nil || out.Message.Content != "Sending our standard NDA" {
		t.Errorf("unexpected message %+v", out.Message)
	}
}

func TestDealHandler_StageTransitions(t *testing.T) {
	r := buyerRouter(t)

	rec := do(r, http.MethodPut, "/conversations/2/stage", `{"stage":"completed"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	rec = do(r, http.MethodPut, "/conversations/2/stage", `{"stage":"closing"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	rec = do(r, http.MethodPut, "/conversations/2/stage", `{"stage":"nda"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var conv entity.Conversation
	decode(t, rec, &conv)
	if conv.Context.CurrentStage != entity.StageNDA || conv.Context.TransactionState.CurrentStage != entity.StageNDA {
		t.Errorf("stage fields diverged: %+v", conv.Context)
	}
}

func TestDealHandler_PerformAction(t *testing.T) {
	r := buyerRouter(t)

	rec := do(r, http.MethodPost, "/conversations/1/actions/create_offer", `{"offer":{"amount":0,"terms":""}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var fail failureResponse
	decode(t, rec, &fail)
	if fail.Kind != "validation" || fail.Fields["amount"] == "" || fail.Fields["terms"] == "" {
		t.Errorf("unexpected failure %+v", fail)
	}

	rec = do(r, http.MethodPost, "/conversations/1/actions/create_offer",
		`{"offer":{"amount":2000000,"terms":"Cash, 30-day close"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var out ActionResponse
	decode(t, rec, &out)
	if out.Message == nil || out.Message.Content != "Offer of 2,000,000 EUR" {
		t.Errorf("unexpected message %+v", out.Message)
	}
	if out.Conversation.Context.CurrentStage != entity.StageOffer {
		t.Errorf("expected offer stage, got %s", out.Conversation.Context.CurrentStage)
	}

	// custom actions take no body
	rec = do(r, http.MethodPost, "/conversations/2/actions/request_nda", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = do(r, http.MethodPost, "/conversations/2/actions/teleport", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDealHandler_ShareDocumentsWithoutStorage(t *testing.T) {
	r := buyerRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("access_level", "nda_required")
	_ = mw.WriteField("confidential", "true")
	fw, err := mw.CreateFormFile("files", "loi.pdf")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("%PDF-1.7"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/conversations/1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var fail failureResponse
	decode(t, rec, &fail)
	if fail.Kind != "network" || !fail.Retryable {
		t.Errorf("unexpected failure %+v", fail)
	}
}

func TestDealHandler_Logout(t *testing.T) {
	r := buyerRouter(t)

	_ = do(r, http.MethodPost, "/conversations/2/pin", `{"value":true}`)
	rec := do(r, http.MethodDelete, "/session", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	// a fresh session is loaded from the fixture again
	rec = do(r, http.MethodGet, "/conversations/2", "")
	var conv entity.Conversation
	decode(t, rec, &conv)
	if conv.IsPinned {
		t.Error("logout should drop in-memory changes")
	}
}
