package entity

import (
	"strings"
	"time"
)

// Currencies accepted for offers
var Currencies = []string{"EUR", "USD", "GBP"}

// DefaultCurrency is applied when an offer omits the currency
const DefaultCurrency = "EUR"

// ExpirationPresets are the day counts offered for offer expiry
var ExpirationPresets = []int{7, 14, 30}

// CreateOfferRequest is the structured input collected for a new offer
type CreateOfferRequest struct {
	ListingID      string     `json:"listing_id"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Terms          string     `json:"terms"`
	Conditions     []string   `json:"conditions,omitempty"`
	ExpiresInDays  *int       `json:"expires_in_days,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

// Validate normalizes the request in place and reports per-field errors
func (r *CreateOfferRequest) Validate(now time.Time) error {
	fe := FieldErrors{}

	if r.Amount <= 0 {
		fe.Add("amount", "amount must be greater than zero")
	}

	r.Terms = strings.TrimSpace(r.Terms)
	if r.Terms == "" {
		fe.Add("terms", "terms are required")
	}

	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	if !contains(Currencies, r.Currency) {
		fe.Add("currency", "currency must be one of "+strings.Join(Currencies, ", "))
	}

	conditions := r.Conditions[:0:0]
	for _, c := range r.Conditions {
		if c = strings.TrimSpace(c); c != "" {
			conditions = append(conditions, c)
		}
	}
	r.Conditions = conditions

	switch {
	case r.ExpiresInDays != nil && r.ExpirationDate != nil:
		fe.Add("expiration_date", "choose either a preset or an explicit date")
	case r.ExpiresInDays != nil:
		if !containsInt(ExpirationPresets, *r.ExpiresInDays) {
			fe.Add("expires_in_days", "expiry must be 7, 14 or 30 days")
		}
	case r.ExpirationDate != nil:
		if !r.ExpirationDate.After(now) {
			fe.Add("expiration_date", "expiration date must be in the future")
		}
	}

	return fe.Err()
}

// ExpiresAt resolves the expiry preset or explicit date
func (r *CreateOfferRequest) ExpiresAt(now time.Time) *time.Time {
	if r.ExpirationDate != nil {
		t := *r.ExpirationDate
		return &t
	}
	if r.ExpiresInDays != nil {
		t := now.AddDate(0, 0, *r.ExpiresInDays)
		return &t
	}
	return nil
}

// DDCategory is the area a due diligence request covers
type DDCategory string

const (
	DDFinancial     DDCategory = "financial"
	DDLegal         DDCategory = "legal"
	DDOperational   DDCategory = "operational"
	DDCommercial    DDCategory = "commercial"
	DDTechnical     DDCategory = "technical"
	DDHR            DDCategory = "hr"
	DDEnvironmental DDCategory = "environmental"
	DDOther         DDCategory = "other"
)

// DDCategories lists the accepted categories
var DDCategories = []DDCategory{
	DDFinancial, DDLegal, DDOperational, DDCommercial,
	DDTechnical, DDHR, DDEnvironmental, DDOther,
}

// DDPriority ranks a due diligence request
type DDPriority string

const (
	PriorityLow    DDPriority = "low"
	PriorityMedium DDPriority = "medium"
	PriorityHigh   DDPriority = "high"
	PriorityUrgent DDPriority = "urgent"
)

// CreateDueDiligenceRequest is the structured input for a due diligence request
type CreateDueDiligenceRequest struct {
	ListingID   string     `json:"listing_id"`
	Category    DDCategory `json:"category"`
	ItemID      string     `json:"item_id"`
	Description string     `json:"description,omitempty"`
	Priority    DDPriority `json:"priority"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Validate normalizes the request in place and reports per-field errors
func (r *CreateDueDiligenceRequest) Validate(now time.Time) error {
	fe := FieldErrors{}

	if r.Category == "" {
		fe.Add("category", "category is required")
	} else if !containsCategory(r.Category) {
		fe.Add("category", "unknown category")
	}

	r.ItemID = strings.TrimSpace(r.ItemID)
	if r.ItemID == "" {
		fe.Add("item_id", "item is required")
	}
	r.Description = strings.TrimSpace(r.Description)

	switch r.Priority {
	case "":
		r.Priority = PriorityMedium
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
	default:
		fe.Add("priority", "priority must be low, medium, high or urgent")
	}

	if r.Deadline != nil && !r.Deadline.After(now) {
		fe.Add("deadline", "deadline must be in the future")
	}

	return fe.Err()
}

// AccessLevel gates who may open a shared document
type AccessLevel string

const (
	AccessPublic       AccessLevel = "public"
	AccessNDARequired  AccessLevel = "nda_required"
	AccessDueDiligence AccessLevel = "due_diligence"
)

// MaxDocumentSize is the largest accepted file, in bytes
const MaxDocumentSize = 25 << 20

// FileSpec describes one file submitted for sharing
type FileSpec struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ShareDocumentRequest is the structured input for sharing documents
type ShareDocumentRequest struct {
	ListingID             string      `json:"listing_id"`
	Files                 []FileSpec  `json:"files"`
	AccessLevel           AccessLevel `json:"access_level"`
	Confidential          bool        `json:"confidential"`
	RequireAcknowledgment bool        `json:"require_acknowledgment"`
	AllowDownload         bool        `json:"allow_download"`
	Note                  string      `json:"note,omitempty"`
}

// Validate normalizes the request in place and reports per-field errors
func (r *ShareDocumentRequest) Validate() error {
	fe := FieldErrors{}

	if len(r.Files) == 0 {
		fe.Add("files", "at least one file is required")
	}
	for _, f := range r.Files {
		if strings.TrimSpace(f.Name) == "" {
			fe.Add("files", "file name is required")
		}
		if f.Size <= 0 {
			fe.Add("files", "file "+f.Name+" is empty")
		}
		if f.Size > MaxDocumentSize {
			fe.Add("files", "file "+f.Name+" exceeds 25 MB")
		}
	}

	switch r.AccessLevel {
	case "":
		r.AccessLevel = AccessNDARequired
	case AccessPublic, AccessNDARequired, AccessDueDiligence:
	default:
		fe.Add("access_level", "access level must be public, nda_required or due_diligence")
	}

	r.Note = strings.TrimSpace(r.Note)
	return fe.Err()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}

func containsCategory(c DDCategory) bool {
	for _, v := range DDCategories {
		if v == c {
			return true
		}
	}
	return false
}
