// internal/models/decision.go
package models

import "time"

// DecisionType is the action a reviewer takes on a proposal.
type DecisionType string

const (
	DecisionApprove        DecisionType = "APPROVE"
	DecisionReject         DecisionType = "REJECT"
	DecisionRequestChanges DecisionType = "REQUEST_CHANGES"
)

var DecisionTypes = []DecisionType{
	DecisionApprove,
	DecisionReject,
	DecisionRequestChanges,
}

func (d DecisionType) Valid() bool {
	for _, known := range DecisionTypes {
		if d == known {
			return true
		}
	}
	return false
}

func DecisionTypeNames() []string {
	names := make([]string, 0, len(DecisionTypes))
	for _, d := range DecisionTypes {
		names = append(names, string(d))
	}
	return names
}

// DecisionRequest is a reviewer's intent. Stage is the stage the reviewer
// believes the proposal is in; it must match the actual stage to be applied.
type DecisionRequest struct {
	Stage    Stage        `json:"stage" mapstructure:"stage"`
	Decision DecisionType `json:"decision" mapstructure:"decision"`
	Reasons  []string     `json:"reasons,omitempty" mapstructure:"reasons"`
	Comment  *string      `json:"comment,omitempty" mapstructure:"comment"`
	UserID   string       `json:"userId" mapstructure:"userId"`
}

// Decision is an immutable record of a transition. Stage is the stage the
// decision was made at, not the resulting one.
type Decision struct {
	ID         string       `json:"id"`
	ProposalID string       `json:"proposalId"`
	Stage      Stage        `json:"stage"`
	Decision   DecisionType `json:"decision"`
	Reasons    []string     `json:"reasons"`
	Comment    *string      `json:"comment,omitempty"`
	UserID     string       `json:"userId"`
	CreatedAt  time.Time    `json:"createdAt"`
}
