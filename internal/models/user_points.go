package models

import (
	"time"
)

// UserPoints is the denormalized per-user points aggregate. One row exists
// per user, provisioned at account creation and rewritten only by the
// recomputation worker. Subtotals are eventually consistent with the event
// ledger; the worker always recomputes them from scratch, never applies
// deltas.
type UserPoints struct {
	UserID      uint      `gorm:"primaryKey" json:"user_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	TotalPoints int64     `gorm:"not null;default:0" json:"total_points"`

	BlockMinedPoints                       int64      `gorm:"not null;default:0" json:"block_mined_points"`
	BlockMinedLastOccurredAt               *time.Time `json:"block_mined_last_occurred_at"`
	BugCaughtPoints                        int64      `gorm:"not null;default:0" json:"bug_caught_points"`
	BugCaughtLastOccurredAt                *time.Time `json:"bug_caught_last_occurred_at"`
	CommunityContributionPoints            int64      `gorm:"not null;default:0" json:"community_contribution_points"`
	CommunityContributionLastOccurredAt    *time.Time `json:"community_contribution_last_occurred_at"`
	PullRequestMergedPoints                int64      `gorm:"not null;default:0" json:"pull_request_merged_points"`
	PullRequestMergedLastOccurredAt        *time.Time `json:"pull_request_merged_last_occurred_at"`
	SocialMediaPromotionPoints             int64      `gorm:"not null;default:0" json:"social_media_promotion_points"`
	SocialMediaPromotionLastOccurredAt     *time.Time `json:"social_media_promotion_last_occurred_at"`
	NodeUptimePoints                       int64      `gorm:"not null;default:0" json:"node_uptime_points"`
	NodeUptimeLastOccurredAt               *time.Time `json:"node_uptime_last_occurred_at"`
	SendTransactionPoints                  int64      `gorm:"not null;default:0" json:"send_transaction_points"`
	SendTransactionLastOccurredAt          *time.Time `json:"send_transaction_last_occurred_at"`
}

func (UserPoints) TableName() string { return "user_points" }

// CategoryPoints returns the subtotal for one event type.
func (p *UserPoints) CategoryPoints(t EventType) int64 {
	switch t {
	case EventTypeBlockMined:
		return p.BlockMinedPoints
	case EventTypeBugCaught:
		return p.BugCaughtPoints
	case EventTypeCommunityContribution:
		return p.CommunityContributionPoints
	case EventTypePullRequestMerged:
		return p.PullRequestMergedPoints
	case EventTypeSocialMediaPromotion:
		return p.SocialMediaPromotionPoints
	case EventTypeNodeUptime:
		return p.NodeUptimePoints
	case EventTypeSendTransaction:
		return p.SendTransactionPoints
	}
	return 0
}

// CategoryLastOccurredAt returns when the newest active event of the type
// occurred, or nil if the user has none.
func (p *UserPoints) CategoryLastOccurredAt(t EventType) *time.Time {
	switch t {
	case EventTypeBlockMined:
		return p.BlockMinedLastOccurredAt
	case EventTypeBugCaught:
		return p.BugCaughtLastOccurredAt
	case EventTypeCommunityContribution:
		return p.CommunityContributionLastOccurredAt
	case EventTypePullRequestMerged:
		return p.PullRequestMergedLastOccurredAt
	case EventTypeSocialMediaPromotion:
		return p.SocialMediaPromotionLastOccurredAt
	case EventTypeNodeUptime:
		return p.NodeUptimeLastOccurredAt
	case EventTypeSendTransaction:
		return p.SendTransactionLastOccurredAt
	}
	return nil
}

// SetCategory overwrites one category's subtotal and timestamp.
func (p *UserPoints) SetCategory(t EventType, points int64, lastOccurredAt *time.Time) {
	switch t {
	case EventTypeBlockMined:
		p.BlockMinedPoints, p.BlockMinedLastOccurredAt = points, lastOccurredAt
	case EventTypeBugCaught:
		p.BugCaughtPoints, p.BugCaughtLastOccurredAt = points, lastOccurredAt
	case EventTypeCommunityContribution:
		p.CommunityContributionPoints, p.CommunityContributionLastOccurredAt = points, lastOccurredAt
	case EventTypePullRequestMerged:
		p.PullRequestMergedPoints, p.PullRequestMergedLastOccurredAt = points, lastOccurredAt
	case EventTypeSocialMediaPromotion:
		p.SocialMediaPromotionPoints, p.SocialMediaPromotionLastOccurredAt = points, lastOccurredAt
	case EventTypeNodeUptime:
		p.NodeUptimePoints, p.NodeUptimeLastOccurredAt = points, lastOccurredAt
	case EventTypeSendTransaction:
		p.SendTransactionPoints, p.SendTransactionLastOccurredAt = points, lastOccurredAt
	}
}
