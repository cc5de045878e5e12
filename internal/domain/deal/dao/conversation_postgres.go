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

// ConversationPostgres implements conversation storage for PostgreSQL.
// Conversations are stored per owner because the participant snapshot is
// relative to the user viewing the thread.
type ConversationPostgres struct {
	pool *pgxpool.Pool
}

// NewConversationPostgres creates a new PostgreSQL conversation repository
func NewConversationPostgres(pool *pgxpool.Pool) *ConversationPostgres {
	return &ConversationPostgres{pool: pool}
}

// Upsert inserts or updates a conversation for an owner
func (r *ConversationPostgres) Upsert(ctx context.Context, ownerID string, conv *entity.Conversation) error {
	query := `
		INSERT INTO deal_conversations (
			owner_id, id, participant, last_message, business_context, unread_count,
			is_pinned, is_archived, status, context, current_stage, last_activity,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (owner_id, id) DO UPDATE SET
			participant = EXCLUDED.participant,
			last_message = EXCLUDED.last_message,
			business_context = EXCLUDED.business_context,
			unread_count = EXCLUDED.unread_count,
			is_pinned = EXCLUDED.is_pinned,
			is_archived = EXCLUDED.is_archived,
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			current_stage = EXCLUDED.current_stage,
			last_activity = EXCLUDED.last_activity,
			updated_at = EXCLUDED.updated_at
	`

	participant, err := json.Marshal(conv.Participant)
	if err != nil {
		return fmt.Errorf("encoding participant: %w", err)
	}
	lastMessage, err := json.Marshal(conv.LastMessage)
	if err != nil {
		return fmt.Errorf("encoding last message: %w", err)
	}
	var businessContext []byte
	if conv.BusinessContext != nil {
		if businessContext, err = json.Marshal(conv.BusinessContext); err != nil {
			return fmt.Errorf("encoding business context: %w", err)
		}
	}
	// quick actions are derived per viewer and never stored
	stored := conv.Context.Clone()
	stored.QuickActions = nil
	dealContext, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}

	_, err = r.pool.Exec(ctx, query,
		ownerID,
		conv.ID,
		participant,
		lastMessage,
		businessContext,
		conv.UnreadCount,
		conv.IsPinned,
		conv.IsArchived,
		conv.Status,
		dealContext,
		string(conv.Context.CurrentStage),
		conv.Context.LastActivity,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	return nil
}

// ListByOwner retrieves all conversations of an owner, newest activity first
func (r *ConversationPostgres) ListByOwner(ctx context.Context, ownerID string) ([]entity.Conversation, error) {
	query := `
		SELECT id, participant, last_message, business_context, unread_count,
		       is_pinned, is_archived, status, context
		FROM deal_conversations
		WHERE owner_id = $1
		ORDER BY last_activity DESC NULLS LAST, id
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []entity.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	return conversations, nil
}

// scanConversation scans a single conversation row
func scanConversation(row pgx.Row) (*entity.Conversation, error) {
	var conv entity.Conversation
	var participant, lastMessage, businessContext, dealContext []byte

	err := row.Scan(
		&conv.ID,
		&participant,
		&lastMessage,
		&businessContext,
		&conv.UnreadCount,
		&conv.IsPinned,
		&conv.IsArchived,
		&conv.Status,
		&dealContext,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	if err := json.Unmarshal(participant, &conv.Participant); err != nil {
		return nil, fmt.Errorf("decoding participant: %w", err)
	}
	if err := json.Unmarshal(lastMessage, &conv.LastMessage); err != nil {
		return nil, fmt.Errorf("decoding last message: %w", err)
	}
	if len(businessContext) > 0 {
		conv.BusinessContext = &entity.BusinessContext{}
		if err := json.Unmarshal(businessContext, conv.BusinessContext); err != nil {
			return nil, fmt.Errorf("decoding business context: %w", err)
		}
	}
	if err := json.Unmarshal(dealContext, &conv.Context); err != nil {
		return nil, fmt.Errorf("decoding context: %w", err)
	}

	return &conv, nil
}
