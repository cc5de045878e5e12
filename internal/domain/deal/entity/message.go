package entity

import "time"

// MessageType represents the type of a conversation message
type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeOffer        MessageType = "offer"
	MessageTypeDueDiligence MessageType = "due_diligence"
	MessageTypeDocument     MessageType = "document"
	MessageTypeNDA          MessageType = "nda"
	MessageTypeTransaction  MessageType = "transaction"
	MessageTypeSystem       MessageType = "system"
)

// OfferStatus is the lifecycle status of an offer
type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCountered OfferStatus = "countered"
)

// OfferDetails is the payload of an offer message
type OfferDetails struct {
	Amount         int64       `json:"amount" yaml:"amount"`
	Currency       string      `json:"currency" yaml:"currency"`
	Terms          string      `json:"terms" yaml:"terms"`
	Status         OfferStatus `json:"status" yaml:"status"`
	Conditions     []string    `json:"conditions,omitempty" yaml:"conditions"`
	ExpirationDate *time.Time  `json:"expiration_date,omitempty" yaml:"expiration_date"`
}

// DDStatus is the status of a due diligence request
type DDStatus string

const (
	DDRequested  DDStatus = "requested"
	DDInProgress DDStatus = "in_progress"
	DDCompleted  DDStatus = "completed"
	DDRejected   DDStatus = "rejected"
)

// DueDiligenceDetails is the payload of a due diligence request message
type DueDiligenceDetails struct {
	Category    DDCategory `json:"category" yaml:"category"`
	ItemID      string     `json:"item_id" yaml:"item_id"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Priority    DDPriority `json:"priority" yaml:"priority"`
	Status      DDStatus   `json:"status" yaml:"status"`
	Deadline    *time.Time `json:"deadline,omitempty" yaml:"deadline"`
}

// SharedFile is one stored file attached to a document message
type SharedFile struct {
	Name        string `json:"name" yaml:"name"`
	URL         string `json:"url" yaml:"url"`
	Key         string `json:"key,omitempty" yaml:"key"`
	Size        int64  `json:"size" yaml:"size"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type"`
}

// DocumentDetails is the payload of a document sharing message
type DocumentDetails struct {
	Files                 []SharedFile `json:"files" yaml:"files"`
	AccessLevel           AccessLevel  `json:"access_level" yaml:"access_level"`
	Confidential          bool         `json:"confidential" yaml:"confidential"`
	RequireAcknowledgment bool         `json:"require_acknowledgment" yaml:"require_acknowledgment"`
	AllowDownload         bool         `json:"allow_download" yaml:"allow_download"`
}

// NDAStatus is the status of a non-disclosure agreement
type NDAStatus string

const (
	NDARequested NDAStatus = "requested"
	NDASigned    NDAStatus = "signed"
	NDADeclined  NDAStatus = "declined"
)

// NDADetails is the payload of an NDA message
type NDADetails struct {
	Status      NDAStatus  `json:"status" yaml:"status"`
	DocumentURL string     `json:"document_url,omitempty" yaml:"document_url"`
	SignedAt    *time.Time `json:"signed_at,omitempty" yaml:"signed_at"`
}

// TransactionStatus is the status of the closing transaction
type TransactionStatus string

const (
	TransactionInitiated TransactionStatus = "initiated"
	TransactionInEscrow  TransactionStatus = "in_escrow"
	TransactionClosing   TransactionStatus = "closing"
	TransactionCompleted TransactionStatus = "completed"
)

// TransactionDetails is the payload of a transaction message
type TransactionDetails struct {
	Status   TransactionStatus `json:"status" yaml:"status"`
	Amount   int64             `json:"amount" yaml:"amount"`
	Currency string            `json:"currency" yaml:"currency"`
}

// Message is a single message in a conversation. At most one detail payload
// is set and it must match Type.
type Message struct {
	ID                  string               `json:"id" yaml:"id"`
	ConversationID      string               `json:"conversation_id" yaml:"conversation_id"`
	SenderID            string               `json:"sender_id" yaml:"sender_id"`
	RecipientID         string               `json:"recipient_id" yaml:"recipient_id"`
	Content             string               `json:"content" yaml:"content"`
	SentAt              time.Time            `json:"sent_at" yaml:"sent_at"`
	Type                MessageType          `json:"type" yaml:"type"`
	IsRead              bool                 `json:"is_read" yaml:"is_read"`
	ReadAt              *time.Time           `json:"read_at,omitempty" yaml:"read_at"`
	OfferDetails        *OfferDetails        `json:"offer_details,omitempty" yaml:"offer_details"`
	DueDiligenceDetails *DueDiligenceDetails `json:"due_diligence_details,omitempty" yaml:"due_diligence_details"`
	DocumentDetails     *DocumentDetails     `json:"document_details,omitempty" yaml:"document_details"`
	NDADetails          *NDADetails          `json:"nda_details,omitempty" yaml:"nda_details"`
	TransactionDetails  *TransactionDetails  `json:"transaction_details,omitempty" yaml:"transaction_details"`
}

// MaxMessageLength is the maximum length of a text message
const MaxMessageLength = 5000

// ValidateMessageText validates the text for a message
func ValidateMessageText(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// Validate checks that exactly the payload required by the type is present
func (m *Message) Validate() error {
	if m.ConversationID == "" || m.SenderID == "" {
		return ErrInvalidMessage
	}

	payloads := 0
	for _, set := range []bool{
		m.OfferDetails != nil,
		m.DueDiligenceDetails != nil,
		m.DocumentDetails != nil,
		m.NDADetails != nil,
		m.TransactionDetails != nil,
	} {
		if set {
			payloads++
		}
	}

	var want bool
	switch m.Type {
	case MessageTypeText, MessageTypeSystem:
		return boolErr(payloads == 0)
	case MessageTypeOffer:
		want = m.OfferDetails != nil
	case MessageTypeDueDiligence:
		want = m.DueDiligenceDetails != nil
	case MessageTypeDocument:
		want = m.DocumentDetails != nil
	case MessageTypeNDA:
		want = m.NDADetails != nil
	case MessageTypeTransaction:
		want = m.TransactionDetails != nil
	default:
		return ErrInvalidMessage
	}
	return boolErr(want && payloads == 1)
}

func boolErr(ok bool) error {
	if ok {
		return nil
	}
	return ErrInvalidMessage
}

// MarkRead flips the message to read. It is one-way: an already-read message
// keeps its original ReadAt. Returns true if the message changed.
func (m *Message) MarkRead(at time.Time) bool {
	if m.IsRead {
		return false
	}
	m.IsRead = true
	m.ReadAt = &at
	return true
}

// Clone returns a deep copy of the message
func (m *Message) Clone() Message {
	out := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		out.ReadAt = &t
	}
	if m.OfferDetails != nil {
		d := *m.OfferDetails
		d.Conditions = append([]string(nil), m.OfferDetails.Conditions...)
		out.OfferDetails = &d
	}
	if m.DueDiligenceDetails != nil {
		d := *m.DueDiligenceDetails
		out.DueDiligenceDetails = &d
	}
	if m.DocumentDetails != nil {
		d := *m.DocumentDetails
		d.Files = append([]SharedFile(nil), m.DocumentDetails.Files...)
		out.DocumentDetails = &d
	}
	if m.NDADetails != nil {
		d := *m.NDADetails
		out.NDADetails = &d
	}
	if m.TransactionDetails != nil {
		d := *m.TransactionDetails
		out.TransactionDetails = &d
	}
	return out
}
