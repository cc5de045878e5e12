package dao

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

// MessagePostgres implements message storage for PostgreSQL
type MessagePostgres struct {
	pool *pgxpool.Pool
}

// NewMessagePostgres creates a new PostgreSQL message repository
func NewMessagePostgres(pool *pgxpool.Pool) *MessagePostgres {
	return &MessagePostgres{pool: pool}
}

// messageDetails is the JSONB shape of the typed payload column
type messageDetails struct {
	Offer        *entity.OfferDetails        `json:"offer,omitempty"`
	DueDiligence *entity.DueDiligenceDetails `json:"due_diligence,omitempty"`
	Document     *entity.DocumentDetails     `json:"document,omitempty"`
	NDA          *entity.NDADetails          `json:"nda,omitempty"`
	Transaction  *entity.TransactionDetails  `json:"transaction,omitempty"`
}

// Insert stores a message. Re-inserting the same id is ignored.
func (r *MessagePostgres) Insert(ctx context.Context, msg *entity.Message) error {
	query := `
		INSERT INTO deal_messages (
			id, conversation_id, sender_id, recipient_id, type, content,
			details, is_read, read_at, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	details, err := json.Marshal(messageDetails{
		Offer:        msg.OfferDetails,
		DueDiligence: msg.DueDiligenceDetails,
		Document:     msg.DocumentDetails,
		NDA:          msg.NDADetails,
		Transaction:  msg.TransactionDetails,
	})
	if err != nil {
		return fmt.Errorf("encoding message details: %w", err)
	}

	_, err = r.pool.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.RecipientID,
		string(msg.Type),
		msg.Content,
		details,
		msg.IsRead,
		msg.ReadAt,
		msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

// MarkRead flips a message to read. An already-read message keeps its read_at.
func (r *MessagePostgres) MarkRead(ctx context.Context, id string, readAt time.Time) error {
	query := `
		UPDATE deal_messages
		SET is_read = TRUE, read_at = $2
		WHERE id = $1 AND is_read = FALSE
	`

	if _, err := r.pool.Exec(ctx, query, id, readAt); err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	return nil
}

// ListByConversations retrieves the messages of several conversations in send order
func (r *MessagePostgres) ListByConversations(ctx context.Context, conversationIDs []string) ([]entity.Message, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, conversation_id, sender_id, recipient_id, type, content,
		       details, is_read, read_at, sent_at
		FROM deal_messages
		WHERE conversation_id = ANY($1)
		ORDER BY sent_at, id
	`

	rows, err := r.pool.Query(ctx, query, conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []entity.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

func scanMessage(row pgx.Row) (*entity.Message, error) {
	var msg entity.Message
	var msgType string
	var details []byte

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.RecipientID,
		&msgType,
		&msg.Content,
		&details,
		&msg.IsRead,
		&msg.ReadAt,
		&msg.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	msg.Type = entity.MessageType(msgType)

	if len(details) > 0 {
		var d messageDetails
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, fmt.Errorf("decoding message details: %w", err)
		}
		msg.OfferDetails = d.Offer
		msg.DueDiligenceDetails = d.DueDiligence
		msg.DocumentDetails = d.Document
		msg.NDADetails = d.NDA
		msg.TransactionDetails = d.Transaction
	}

	return &msg, nil
}
