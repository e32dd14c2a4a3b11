package notifyreviewoutcome

import (
	"context"

	"loan-review-workers/internal/models"
)

// Delivery statuses, per channel and overall.
const (
	StatusSent     = "sent"
	StatusDisabled = "disabled"
	StatusSkipped  = "skipped"
)

type Input struct {
	ProposalID string `json:"proposalId"`
	DecisionID string `json:"decisionId"`
}

type Output struct {
	Status         string            `json:"notificationStatus"`
	Channels       map[string]string `json:"notificationChannels"`
	SMSMessageID   string            `json:"smsMessageId,omitempty"`
	EmailMessageID string            `json:"emailMessageId,omitempty"`
}

// DecisionReader is implemented by review.Service.
type DecisionReader interface {
	GetDecision(ctx context.Context, proposalID, decisionID string) (*models.ProposalDetail, *models.Decision, error)
}
