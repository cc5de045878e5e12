package dispatcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/store"
	"github.com/vadim/dealroom/internal/domain/deal/tracker"
)

// Store is the part of the conversation store the dispatcher drives
type Store interface {
	Viewer() store.Viewer
	Conversation(id string) (entity.Conversation, error)
	AddMessage(msg entity.Message) error
	UpdateStage(conversationID string, stage entity.TransactionStage) (entity.Conversation, error)
	AdvanceStage(conversationID string) (entity.Conversation, error)
	UpdateTransactionState(conversationID string, patch entity.TransactionStatePatch) (entity.Conversation, error)
	PerformQuickAction(ctx context.Context, conversationID, actionID string, fn func(context.Context, entity.QuickAction) error) error
}

// DocumentUploader stores shared files.
// This interface is defined here (consumer) not in the storage package (provider)
type DocumentUploader interface {
	Upload(ctx context.Context, in UploadInput) (*UploadOutput, error)
	Delete(ctx context.Context, key string) error
}

// UploadInput represents one file to store
type UploadInput struct {
	Reader      io.Reader
	ContentType string
	Size        int64
	Filename    string
}

// UploadOutput represents a stored file
type UploadOutput struct {
	Key string
	URL string
}

// Upload is a file submitted with a share_document action
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Input carries the structured form collected for an action. Only the part
// matching the action kind is read.
type Input struct {
	Offer        *entity.CreateOfferRequest
	DueDiligence *entity.CreateDueDiligenceRequest
	Document     *entity.ShareDocumentRequest
	Files        []Upload
	// Note replaces the default text of messages posted by custom actions
	Note string
}

// Call is what a custom handler receives
type Call struct {
	Conversation entity.Conversation
	Action       entity.QuickAction
	Input        Input
}

// HandlerFunc executes a custom quick action and returns the message it produced, if any
type HandlerFunc func(ctx context.Context, d *Dispatcher, call Call) (*entity.Message, error)

// Dispatcher turns an invoked quick action into a typed message and the
// matching transaction-state change.
type Dispatcher struct {
	store    Store
	uploader DocumentUploader
	handlers map[string]HandlerFunc
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// Option configures the Dispatcher
type Option func(*Dispatcher)

// WithUploader sets the document storage
func WithUploader(u DocumentUploader) Option {
	return func(d *Dispatcher) {
		d.uploader = u
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithIDGenerator overrides message id generation
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) {
		d.newID = fn
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithHandler registers a custom action handler by name
func WithHandler(name string, h HandlerFunc) Option {
	return func(d *Dispatcher) {
		d.handlers[name] = h
	}
}

// New creates a dispatcher bound to one session's store
func New(s Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  s,
		now:    time.Now,
		newID:  func() string { return ulid.Make().String() },
		logger: slog.Default(),
		handlers: map[string]HandlerFunc{
			tracker.ActionRequestNDA:   requestNDA,
			tracker.ActionSignNDA:      signNDA,
			tracker.ActionAdvanceStage: advanceStage,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes an available quick action. Errors are *entity.Failure
// values: validation and conflict failures leave the store untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID, actionID string, in Input) (*entity.Message, error) {
	var msg *entity.Message
	err := d.store.PerformQuickAction(ctx, conversationID, actionID, func(ctx context.Context, action entity.QuickAction) error {
		conv, err := d.store.Conversation(conversationID)
		if err != nil {
			return err
		}

		switch action.Kind {
		case entity.ActionCreateOffer:
			msg, err = d.createOffer(ctx, conv, in)
		case entity.ActionRequestDD:
			msg, err = d.requestDueDiligence(ctx, conv, in)
		case entity.ActionShareDocument:
			msg, err = d.shareDocument(ctx, conv, in)
		case entity.ActionCustom:
			h, ok := d.handlers[action.Handler]
			if !ok {
				return fmt.Errorf("handler %q: %w", action.Handler, entity.ErrActionNotFound)
			}
			if len(in.Note) > entity.MaxMessageLength {
				fe := entity.FieldErrors{}
				fe.Add("note", entity.ErrMessageTooLong.Error())
				return fe.Err()
			}
			msg, err = h(ctx, d, Call{Conversation: conv, Action: action, Input: in})
		default:
			return fmt.Errorf("action kind %q: %w", action.Kind, entity.ErrActionNotFound)
		}
		return err
	})
	if err != nil {
		d.logger.Debug("quick action failed",
			"conversation_id", conversationID,
			"action_id", actionID,
			"error", err,
		)
		return nil, entity.AsFailure(err)
	}

	d.logger.Info("quick action dispatched",
		"conversation_id", conversationID,
		"action_id", actionID,
	)
	return msg, nil
}

// SendText posts a plain text message from the viewer
func (d *Dispatcher) SendText(ctx context.Context, conversationID, text string) (*entity.Message, error) {
	if err := entity.ValidateMessageText(text); err != nil {
		return nil, entity.AsFailure(err)
	}
	conv, err := d.store.Conversation(conversationID)
	if err != nil {
		return nil, entity.AsFailure(err)
	}

	msg := d.newMessage(conv, entity.MessageTypeText, text)
	if err := d.commit(ctx, msg); err != nil {
		return nil, entity.AsFailure(err)
	}
	return &msg, nil
}

func (d *Dispatcher) createOffer(ctx context.Context, conv entity.Conversation, in Input) (*entity.Message, error) {
	if in.Offer == nil {
		return nil, missingForm("offer")
	}
	req := *in.Offer
	now := d.now()
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	msg := d.newMessage(conv, entity.MessageTypeOffer,
		fmt.Sprintf("Offer of %s %s", formatAmount(req.Amount), req.Currency))
	msg.OfferDetails = &entity.OfferDetails{
		Amount:         req.Amount,
		Currency:       req.Currency,
		Terms:          req.Terms,
		Status:         entity.OfferPending,
		Conditions:     req.Conditions,
		ExpirationDate: req.ExpiresAt(now),
	}

	if err := d.commit(ctx, msg); err != nil {
		return nil, err
	}
	if err := d.markFlag(conv.ID, entity.TransactionStatePatch{HasOffer: ptr(true)}); err != nil {
		return nil, err
	}
	if conv.Context.CurrentStage == entity.StageNDA {
		if _, err := d.store.UpdateStage(conv.ID, entity.StageOffer); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

func (d *Dispatcher) requestDueDiligence(ctx context.Context, conv entity.Conversation, in Input) (*entity.Message, error) {
	if in.DueDiligence == nil {
		return nil, missingForm("due_diligence")
	}
	req := *in.DueDiligence
	if err := req.Validate(d.now()); err != nil {
		return nil, err
	}

	content := "Due diligence request: " + req.ItemID
	msg := d.newMessage(conv, entity.MessageTypeDueDiligence, content)
	msg.DueDiligenceDetails = &entity.DueDiligenceDetails{
		Category:    req.Category,
		ItemID:      req.ItemID,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      entity.DDRequested,
		Deadline:    req.Deadline,
	}

	if err := d.commit(ctx, msg); err != nil {
		return nil, err
	}
	if err := d.markFlag(conv.ID, entity.TransactionStatePatch{HasDueDiligence: ptr(true)}); err != nil {
		return nil, err
	}
	if conv.Context.CurrentStage == entity.StageOffer {
		if _, err := d.store.UpdateStage(conv.ID, entity.StageDueDiligence); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

func (d *Dispatcher) shareDocument(ctx context.Context, conv entity.Conversation, in Input) (*entity.Message, error) {
	var req entity.ShareDocumentRequest
	if in.Document != nil {
		req = *in.Document
	}
	req.Files = make([]entity.FileSpec, 0, len(in.Files))
	for _, f := range in.Files {
		req.Files = append(req.Files, entity.FileSpec{Name: f.Name, ContentType: f.ContentType, Size: f.Size})
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.AccessLevel != entity.AccessPublic && !conv.Context.TransactionState.HasNDA {
		return nil, entity.ConflictFailure("an NDA is required before sharing confidential documents", nil)
	}
	if d.uploader == nil {
		return nil, entity.NetworkFailure("document storage is not configured", nil)
	}

	files := make([]entity.SharedFile, 0, len(in.Files))
	for _, f := range in.Files {
		out, err := d.uploader.Upload(ctx, UploadInput{
			Reader:      f.Body,
			ContentType: f.ContentType,
			Size:        f.Size,
			Filename:    f.Name,
		})
		if err != nil {
			d.discard(files)
			return nil, entity.NetworkFailure("uploading "+f.Name, err)
		}
		files = append(files, entity.SharedFile{
			Name:        f.Name,
			URL:         out.URL,
			Key:         out.Key,
			Size:        f.Size,
			ContentType: f.ContentType,
		})
	}

	content := req.Note
	if content == "" {
		content = fmt.Sprintf("Shared %d document(s)", len(files))
	}
	msg := d.newMessage(conv, entity.MessageTypeDocument, content)
	msg.DocumentDetails = &entity.DocumentDetails{
		Files:                 files,
		AccessLevel:           req.AccessLevel,
		Confidential:          req.Confidential,
		RequireAcknowledgment: req.RequireAcknowledgment,
		AllowDownload:         req.AllowDownload,
	}

	if err := d.commit(ctx, msg); err != nil {
		d.discard(files)
		return nil, err
	}
	return &msg, nil
}

// discard removes uploaded objects of an action that did not complete
func (d *Dispatcher) discard(files []entity.SharedFile) {
	for _, f := range files {
		if err := d.uploader.Delete(context.Background(), f.Key); err != nil {
			d.logger.Warn("failed to remove orphaned upload", "key", f.Key, "error", err)
		}
	}
}

// commit hands a message to the store unless the caller has gone away
func (d *Dispatcher) commit(ctx context.Context, msg entity.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.store.AddMessage(msg)
}

func (d *Dispatcher) markFlag(conversationID string, patch entity.TransactionStatePatch) error {
	_, err := d.store.UpdateTransactionState(conversationID, patch)
	return err
}

func (d *Dispatcher) newMessage(conv entity.Conversation, typ entity.MessageType, content string) entity.Message {
	return entity.Message{
		ID:             d.newID(),
		ConversationID: conv.ID,
		SenderID:       d.store.Viewer().UserID,
		RecipientID:    conv.Participant.ID,
		Content:        content,
		SentAt:         d.now(),
		Type:           typ,
	}
}

// content is the caller's note, or fallback when none was given
func (c Call) content(fallback string) string {
	if note := strings.TrimSpace(c.Input.Note); note != "" {
		return note
	}
	return fallback
}

func requestNDA(ctx context.Context, d *Dispatcher, call Call) (*entity.Message, error) {
	msg := d.newMessage(call.Conversation, entity.MessageTypeNDA, call.content("NDA requested"))
	msg.NDADetails = &entity.NDADetails{Status: entity.NDARequested}

	if err := d.commit(ctx, msg); err != nil {
		return nil, err
	}
	if call.Conversation.Context.CurrentStage == entity.StageInquiry {
		if _, err := d.store.UpdateStage(call.Conversation.ID, entity.StageNDA); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

func signNDA(ctx context.Context, d *Dispatcher, call Call) (*entity.Message, error) {
	now := d.now()
	msg := d.newMessage(call.Conversation, entity.MessageTypeNDA, call.content("NDA signed"))
	msg.NDADetails = &entity.NDADetails{Status: entity.NDASigned, SignedAt: &now}

	if err := d.commit(ctx, msg); err != nil {
		return nil, err
	}
	if err := d.markFlag(call.Conversation.ID, entity.TransactionStatePatch{HasNDA: ptr(true)}); err != nil {
		return nil, err
	}
	return &msg, nil
}

func advanceStage(ctx context.Context, d *Dispatcher, call Call) (*entity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conv, err := d.store.AdvanceStage(call.Conversation.ID)
	if err != nil {
		return nil, err
	}

	stage := conv.Context.CurrentStage
	msg := d.newMessage(conv, entity.MessageTypeSystem, call.content("Deal moved to "+string(stage)))
	if err := d.store.AddMessage(msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func missingForm(field string) error {
	fe := entity.FieldErrors{}
	fe.Add(field, field+" details are required")
	return fe.Err()
}

// formatAmount renders an integer amount with thousands separators
func formatAmount(v int64) string {
	s := strconv.FormatInt(v, 10)
	neg := false
	if v < 0 {
		neg = true
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func ptr[T any](v T) *T {
	return &v
}
