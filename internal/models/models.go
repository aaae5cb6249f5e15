package models

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// EventType identifies the kind of contribution an event records.
type EventType string

const (
	EventTypeBlockMined            EventType = "BLOCK_MINED"
	EventTypeBugCaught             EventType = "BUG_CAUGHT"
	EventTypeCommunityContribution EventType = "COMMUNITY_CONTRIBUTION"
	EventTypePullRequestMerged     EventType = "PULL_REQUEST_MERGED"
	EventTypeSocialMediaPromotion  EventType = "SOCIAL_MEDIA_PROMOTION"
	EventTypeNodeUptime            EventType = "NODE_UPTIME"
	EventTypeSendTransaction       EventType = "SEND_TRANSACTION"
)

// EventTypes returns all event types in a stable order.
func EventTypes() []EventType {
	return []EventType{
		EventTypeBlockMined,
		EventTypeBugCaught,
		EventTypeCommunityContribution,
		EventTypePullRequestMerged,
		EventTypeSocialMediaPromotion,
		EventTypeNodeUptime,
		EventTypeSendTransaction,
	}
}

// ParseEventType validates a string received from the API.
func ParseEventType(s string) (EventType, error) {
	for _, t := range EventTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", errors.Errorf("unknown event type %q", s)
}

// PointsPerCategory is the static catalog of default point awards.
// It is never mutated at runtime.
var PointsPerCategory = map[EventType]int64{
	EventTypeBlockMined:            100,
	EventTypeBugCaught:             100,
	EventTypeCommunityContribution: 1000,
	EventTypePullRequestMerged:     500,
	EventTypeSocialMediaPromotion:  100,
	EventTypeNodeUptime:            10,
	EventTypeSendTransaction:       1,
}

// EventStatus is the lifecycle state of an event. Retracted events keep
// their row for audit history but carry zero points.
type EventStatus string

const (
	EventStatusActive    EventStatus = "ACTIVE"
	EventStatusRetracted EventStatus = "RETRACTED"
)

// User is the account directory entry. Rank tie-breaks depend on CreatedAt.
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Graffiti    string    `gorm:"not null;uniqueIndex" json:"graffiti"`
	Email       string    `gorm:"not null;uniqueIndex" json:"email"`
	CountryCode string    `gorm:"size:3" json:"country_code"`
}

func (User) TableName() string { return "users" }

// Block is a mined block. Events of type BLOCK_MINED reference one.
type Block struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Hash              string    `gorm:"not null;uniqueIndex" json:"hash"`
	Sequence          int64     `gorm:"not null;index" json:"sequence"`
	Difficulty        int64     `gorm:"not null" json:"difficulty"`
	TransactionsCount int       `gorm:"not null" json:"transactions_count"`
	MainChain         bool      `gorm:"not null;default:true" json:"main"`
	Timestamp         time.Time `gorm:"not null" json:"timestamp"`
}

func (Block) TableName() string { return "blocks" }

// Deposit is an on-chain transfer credited to a user. Events of type
// SEND_TRANSACTION reference one.
type Deposit struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	TransactionHash string    `gorm:"not null;uniqueIndex" json:"transaction_hash"`
	BlockHash       string    `gorm:"not null" json:"block_hash"`
	Amount          int64     `gorm:"not null" json:"amount"`
}

func (Deposit) TableName() string { return "deposits" }

// Event is one ledger entry. At most one of BlockID, DepositID and URL is
// set; that value is the event's external identity. The partial unique
// indexes enforce at most one ACTIVE event per external key, which is what
// makes upserts race-safe.
type Event struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
	Type        EventType   `gorm:"type:varchar(32);not null;index:idx_events_user_type_status,priority:2" json:"type"`
	UserID      uint        `gorm:"not null;index:idx_events_user_type_status,priority:1" json:"user_id"`
	Points      int64       `gorm:"not null" json:"points"`
	OccurredAt  time.Time   `gorm:"not null;index" json:"occurred_at"`
	Status      EventStatus `gorm:"type:varchar(16);not null;default:'ACTIVE';index:idx_events_user_type_status,priority:3" json:"status"`
	RetractedAt *time.Time  `json:"retracted_at,omitempty"`
	BlockID     *uint       `gorm:"index:idx_events_block_active,unique,where:status = 'ACTIVE'" json:"block_id,omitempty"`
	DepositID   *uint       `gorm:"index:idx_events_deposit_active,unique,where:status = 'ACTIVE'" json:"deposit_id,omitempty"`
	URL         *string     `gorm:"index:idx_events_url_active,unique,where:status = 'ACTIVE'" json:"url,omitempty"`
}

func (Event) TableName() string { return "events" }

// Active reports whether the event still contributes points.
func (e *Event) Active() bool { return e.Status == EventStatusActive }

// BlockSummary is the metadata shape attached to block-backed events.
type BlockSummary struct {
	ID                uint      `json:"id"`
	Hash              string    `json:"hash"`
	Sequence          int64     `json:"sequence"`
	Difficulty        int64     `json:"difficulty"`
	Main              bool      `json:"main"`
	TransactionsCount int       `json:"transactions_count"`
	Timestamp         time.Time `json:"timestamp"`
}

// SummarizeBlock builds the serialized block summary for event metadata.
func SummarizeBlock(b *Block) *BlockSummary {
	return &BlockSummary{
		ID:                b.ID,
		Hash:              b.Hash,
		Sequence:          b.Sequence,
		Difficulty:        b.Difficulty,
		Main:              b.MainChain,
		TransactionsCount: b.TransactionsCount,
		Timestamp:         b.Timestamp,
	}
}

// DepositSummary is the metadata shape attached to deposit-backed events.
type DepositSummary struct {
	TransactionHash string `json:"transaction_hash"`
	BlockHash       string `json:"block_hash"`
}

// EventMetadata carries the external-identity details for a returned event.
// Exactly one field is populated, matching whichever identity the event has.
type EventMetadata struct {
	Block   *BlockSummary   `json:"block,omitempty"`
	Deposit *DepositSummary `json:"deposit,omitempty"`
	URL     string          `json:"url,omitempty"`
}

// EventWithMetadata is an event enriched for API responses.
type EventWithMetadata struct {
	Event
	Metadata EventMetadata `json:"metadata"`
}

// SetupModels runs the schema migrations for all models.
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Block{},
		&Deposit{},
		&Event{},
		&UserPoints{},
	)
}
