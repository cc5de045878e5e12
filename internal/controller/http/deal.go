package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/dealroom/internal/domain/deal/dispatcher"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/policy"
	"github.com/vadim/dealroom/internal/domain/deal/store"
	"github.com/vadim/dealroom/internal/httpx/middleware"
	"github.com/vadim/dealroom/internal/httpx/response"
)

// DealPolicy defines the interface for deal room operations
// Interface is defined by consumer (handler), not provider (policy)
type DealPolicy interface {
	CloseSession(ctx context.Context, viewer store.Viewer) bool
	ListConversations(ctx context.Context, viewer store.Viewer, in policy.ListConversationsInput) ([]entity.Conversation, error)
	GetConversation(ctx context.Context, viewer store.Viewer, id string) (*entity.Conversation, error)
	SelectConversation(ctx context.Context, viewer store.Viewer, id string) (*entity.Conversation, error)
	SelectedConversation(ctx context.Context, viewer store.Viewer) (*policy.SelectedConversationOutput, error)
	GetMessages(ctx context.Context, viewer store.Viewer, conversationID string) ([]entity.Message, error)
	SendMessage(ctx context.Context, viewer store.Viewer, conversationID, text string) (*entity.Message, error)
	MarkMessageRead(ctx context.Context, viewer store.Viewer, messageID string) (*entity.Message, error)
	MarkConversationRead(ctx context.Context, viewer store.Viewer, conversationID string) (int, error)
	SetPinned(ctx context.Context, viewer store.Viewer, conversationID string, pinned bool) (*entity.Conversation, error)
	SetArchived(ctx context.Context, viewer store.Viewer, conversationID string, archived bool) (*entity.Conversation, error)
	SetStatus(ctx context.Context, viewer store.Viewer, conversationID, status string) (*entity.Conversation, error)
	UpdateContext(ctx context.Context, viewer store.Viewer, conversationID string, patch entity.ContextPatch) (*entity.Conversation, error)
	UpdateStage(ctx context.Context, viewer store.Viewer, conversationID string, stage entity.TransactionStage) (*entity.Conversation, error)
	UpdateTransactionState(ctx context.Context, viewer store.Viewer, conversationID string, patch entity.TransactionStatePatch) (*entity.Conversation, error)
	UpdateProgress(ctx context.Context, viewer store.Viewer, conversationID string, patch entity.ProgressPatch) (*entity.Conversation, error)
	PerformAction(ctx context.Context, viewer store.Viewer, conversationID, actionID string, in dispatcher.Input) (*policy.PerformActionOutput, error)
	Heartbeat(ctx context.Context, viewer store.Viewer) error
}

// DealHandler handles HTTP requests for the deal room
type DealHandler struct {
	policy         DealPolicy
	maxUploadBytes int64
}

// NewDealHandler creates a new deal room handler
func NewDealHandler(p DealPolicy, maxUploadBytes int64) *DealHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 << 20
	}
	return &DealHandler{policy: p, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes registers deal room routes
func (h *DealHandler) RegisterRoutes(r chi.Router) {
	r.Delete("/session", h.Logout())
	r.Post("/presence/heartbeat", h.Heartbeat())

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", h.ListConversations())
		r.Get("/selected", h.GetSelected())
		r.Get("/{id}", h.GetConversation())
		r.Post("/{id}/select", h.Select())
		r.Post("/{id}/read", h.MarkConversationRead())
		r.Post("/{id}/pin", h.SetPinned())
		r.Post("/{id}/archive", h.SetArchived())
		r.Patch("/{id}/status", h.SetStatus())
		r.Get("/{id}/messages", h.ListMessages())
		r.Post("/{id}/messages", h.SendMessage())
		r.Patch("/{id}/context", h.UpdateContext())
		r.Put("/{id}/stage", h.UpdateStage())
		r.Patch("/{id}/transaction-state", h.UpdateTransactionState())
		r.Patch("/{id}/progress", h.UpdateProgress())
		r.Post("/{id}/actions/{actionId}", h.PerformAction())
		r.Post("/{id}/documents", h.ShareDocuments())
	})

	r.Post("/messages/{id}/read", h.MarkMessageRead())
}

// Logout handles DELETE /session
func (h *DealHandler) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		h.policy.CloseSession(r.Context(), viewer)
		response.NoContent(w)
	}
}

// Heartbeat handles POST /presence/heartbeat
func (h *DealHandler) Heartbeat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		if err := h.policy.Heartbeat(r.Context(), viewer); err != nil {
			handleDealError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// ListConversationsResponse represents the conversation list
type ListConversationsResponse struct {
	Conversations []entity.Conversation `json:"conversations"`
	Total         int                   `json:"total"`
}

// ListConversations handles GET /conversations
func (h *DealHandler) ListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}

		var in policy.ListConversationsInput
		if v := r.URL.Query().Get("archived"); v != "" {
			archived, err := strconv.ParseBool(v)
			if err != nil {
				response.BadRequest(w, "archived must be true or false")
				return
			}
			in.Archived = &archived
		}

		convs, err := h.policy.ListConversations(r.Context(), viewer, in)
		if err != nil {
			handleDealError(w, err)
			return
		}
		if convs == nil {
			convs = []entity.Conversation{}
		}
		response.OK(w, ListConversationsResponse{Conversations: convs, Total: len(convs)})
	}
}

// GetConversation handles GET /conversations/{id}
func (h *DealHandler) GetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		conv, err := h.policy.GetConversation(r.Context(), viewer, chi.URLParam(r, "id"))
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, conv)
	}
}

// SelectedResponse represents the active conversation
type SelectedResponse struct {
	Conversation entity.Conversation `json:"conversation"`
	Messages     []entity.Message    `json:"messages"`
}

// GetSelected handles GET /conversations/selected
func (h *DealHandler) GetSelected() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		out, err := h.policy.SelectedConversation(r.Context(), viewer)
		if err != nil {
			handleDealError(w, err)
			return
		}
		msgs := out.Messages
		if msgs == nil {
			msgs = []entity.Message{}
		}
		response.OK(w, SelectedResponse{Conversation: out.Conversation, Messages: msgs})
	}
}

// Select handles POST /conversations/{id}/select
func (h *DealHandler) Select() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		conv, err := h.policy.SelectConversation(r.Context(), viewer, chi.URLParam(r, "id"))
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, conv)
	}
}

// MarkConversationRead handles POST /conversations/{id}/read
func (h *DealHandler) MarkConversationRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		n, err := h.policy.MarkConversationRead(r.Context(), viewer, chi.URLParam(r, "id"))
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, map[string]int{"marked": n})
	}
}

// FlagRequest represents a boolean toggle body
type FlagRequest struct {
	Value *bool `json:"value"`
}

// SetPinned handles POST /conversations/{id}/pin
func (h *DealHandler) SetPinned() http.HandlerFunc {
	return h.flag(func(ctx context.Context, viewer store.Viewer, id string, v bool) (*entity.Conversation, error) {
		return h.policy.SetPinned(ctx, viewer, id, v)
	})
}

// SetArchived handles POST /conversations/{id}/archive
func (h *DealHandler) SetArchived() http.HandlerFunc {
	return h.flag(func(ctx context.Context, viewer store.Viewer, id string, v bool) (*entity.Conversation, error) {
		return h.policy.SetArchived(ctx, viewer, id, v)
	})
}

// StatusRequest represents the request body for setting a conversation status
type StatusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles PATCH /conversations/{id}/status
func (h *DealHandler) SetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		var req StatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		conv, err := h.policy.SetStatus(r.Context(), viewer, chi.URLParam(r, "id"), req.Status)
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, conv)
	}
}

func (h *DealHandler) flag(fn func(ctx context.Context, viewer store.Viewer, id string, v bool) (*entity.Conversation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		var req FlagRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if req.Value == nil {
			response.BadRequest(w, "value is required")
			return
		}
		conv, err := fn(r.Context(), viewer, chi.URLParam(r, "id"), *req.Value)
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, conv)
	}
}

// MessagesResponse represents a message list
type MessagesResponse struct {
	Messages []entity.Message `json:"messages"`
}

// ListMessages handles GET /conversations/{id}/messages
func (h *DealHandler) ListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		msgs, err := h.policy.GetMessages(r.Context(), viewer, chi.URLParam(r, "id"))
		if err != nil {
			handleDealError(w, err)
			return
		}
		if msgs == nil {
			msgs = []entity.Message{}
		}
		response.OK(w, MessagesResponse{Messages: msgs})
	}
}

// SendMessageRequest represents the request body for sending a text message
type SendMessageRequest struct {
	Text string `json:"text"`
}

// SendMessage handles POST /conversations/{id}/messages
func (h *DealHandler) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		msg, err := h.policy.SendMessage(r.Context(), viewer, chi.URLParam(r, "id"), req.Text)
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.Created(w, msg)
	}
}

// MarkMessageRead handles POST /messages/{id}/read
func (h *DealHandler) MarkMessageRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		msg, err := h.policy.MarkMessageRead(r.Context(), viewer, chi.URLParam(r, "id"))
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, msg)
	}
}

// UpdateContext handles PATCH /conversations/{id}/context
func (h *DealHandler) UpdateContext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		var patch entity.ContextPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		conv, err := h.policy.UpdateContext(r.Context(), viewer, chi.URLParam(r, "id"), patch)
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, conv)
	}
}

// UpdateStageRequest represents the request body for moving a deal stage
type UpdateStageRequest struct {
	Stage string `json:"stage"`
}

// UpdateStage handles PUT /conversations/{id}/stage
func (h *DealHandler) UpdateStage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		var req UpdateStageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		conv, err := h.policy.UpdateStage(r.Context(), viewer, chi.URLParam(r, "id"), entity.TransactionStage(req.Stage))
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, conv)
	}
}

// UpdateTransactionState handles PATCH /conversations/{id}/transaction-state
func (h *DealHandler) UpdateTransactionState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		var patch entity.TransactionStatePatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		conv, err := h.policy.UpdateTransactionState(r.Context(), viewer, chi.URLParam(r, "id"), patch)
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, conv)
	}
}

// UpdateProgress handles PATCH /conversations/{id}/progress
func (h *DealHandler) UpdateProgress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}
		var patch entity.ProgressPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		conv, err := h.policy.UpdateProgress(r.Context(), viewer, chi.URLParam(r, "id"), patch)
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, conv)
	}
}

// ActionRequest represents the form submitted with a quick action.
// Only the part matching the action is read.
type ActionRequest struct {
	Offer        *entity.CreateOfferRequest        `json:"offer,omitempty"`
	DueDiligence *entity.CreateDueDiligenceRequest `json:"due_diligence,omitempty"`
	Document     *entity.ShareDocumentRequest      `json:"document,omitempty"`
	Note         string                            `json:"note,omitempty"`
}

// ActionResponse represents the outcome of a quick action
type ActionResponse struct {
	Message      *entity.Message     `json:"message,omitempty"`
	Conversation entity.Conversation `json:"conversation"`
}

// PerformAction handles POST /conversations/{id}/actions/{actionId}
func (h *DealHandler) PerformAction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}

		// custom actions need no form, so an empty body is allowed
		var req ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.BadRequest(w, "invalid JSON")
			return
		}

		out, err := h.policy.PerformAction(r.Context(), viewer,
			chi.URLParam(r, "id"), chi.URLParam(r, "actionId"),
			dispatcher.Input{
				Offer:        req.Offer,
				DueDiligence: req.DueDiligence,
				Document:     req.Document,
				Note:         req.Note,
			})
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.OK(w, ActionResponse{Message: out.Message, Conversation: out.Conversation})
	}
}

// ShareDocuments handles POST /conversations/{id}/documents (multipart/form-data).
// Fields: files (repeated), access_level, confidential, require_acknowledgment,
// allow_download, note, listing_id.
func (h *DealHandler) ShareDocuments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			response.BadRequest(w, "invalid multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		doc := &entity.ShareDocumentRequest{
			ListingID:             r.FormValue("listing_id"),
			AccessLevel:           entity.AccessLevel(r.FormValue("access_level")),
			Confidential:          formBool(r, "confidential"),
			RequireAcknowledgment: formBool(r, "require_acknowledgment"),
			AllowDownload:         formBool(r, "allow_download"),
			Note:                  r.FormValue("note"),
		}

		headers := r.MultipartForm.File["files"]
		uploads := make([]dispatcher.Upload, 0, len(headers))
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				response.BadRequest(w, "cannot read file "+fh.Filename)
				return
			}
			defer f.Close()
			uploads = append(uploads, dispatcher.Upload{
				Name:        fh.Filename,
				ContentType: contentType(fh),
				Size:        fh.Size,
				Body:        f,
			})
		}

		out, err := h.policy.PerformAction(r.Context(), viewer,
			chi.URLParam(r, "id"), "share_document",
			dispatcher.Input{Document: doc, Files: uploads})
		if err != nil {
			handleDealError(w, err)
			return
		}
		response.Created(w, ActionResponse{Message: out.Message, Conversation: out.Conversation})
	}
}

func formBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.FormValue(key))
	return v
}

func contentType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// viewerFrom reads the authenticated viewer or writes 401
func viewerFrom(w http.ResponseWriter, r *http.Request) (store.Viewer, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Unauthorized(w, "authentication required")
		return store.Viewer{}, false
	}
	return store.Viewer{UserID: id.UserID, Role: id.Role}, true
}

// handleDealError maps deal errors to HTTP responses
func handleDealError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrUnauthorized):
		response.Unauthorized(w, err.Error())
	case errors.Is(err, entity.ErrSessionClosed):
		response.Unauthorized(w, err.Error())
	default:
		response.Failure(w, entity.AsFailure(err))
	}
}
