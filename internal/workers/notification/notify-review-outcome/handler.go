package notifyreviewoutcome

import (
	"context"
	"fmt"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"loan-review-workers/internal/common/aws"
	"loan-review-workers/internal/common/camunda"
	"loan-review-workers/internal/common/config"
	"loan-review-workers/internal/common/errors"
	"loan-review-workers/internal/common/logger"
	"loan-review-workers/internal/common/metrics"
	"loan-review-workers/internal/common/validation"
	"loan-review-workers/internal/models"
	"loan-review-workers/internal/review"
)

const TaskType = "notify-review-outcome"

const (
	channelSMS   = "sms"
	channelEmail = "email"
)

type Handler struct {
	config     *Config
	logger     logger.Logger
	service    DecisionReader
	email      aws.EmailAPI
	sms        aws.SMSAPI
	errHandler *errors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Service      DecisionReader
	Email        aws.EmailAPI
	SMS          aws.SMSAPI
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Service == nil {
		return nil, fmt.Errorf("%s requires a review service", TaskType)
	}
	if workerConfig.EmailEnabled && opts.Email == nil {
		return nil, fmt.Errorf("%s: email is enabled but no SES client was provided", TaskType)
	}
	if workerConfig.SMSEnabled && opts.SMS == nil {
		return nil, fmt.Errorf("%s: sms is enabled but no SNS client was provided", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"worker": TaskType})

	return &Handler{
		config:     workerConfig,
		logger:     log,
		service:    opts.Service,
		email:      opts.Email,
		sms:        opts.SMS,
		errHandler: errors.NewErrorHandler(log),
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	timer := metrics.StartJob(TaskType)

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Processing review outcome notification", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		timer.Failed(string(errors.CodeOf(err)))
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		timer.Failed(string(errors.CodeOf(err)))
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}

	if err := camunda.CompleteJob(ctx, client, job, output); err != nil {
		timer.Failed("COMPLETE_FAILED")
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	timer.Completed()
}

var inputSchema = validation.MustCompile(validation.JSONSchema{
	Type: "object",
	Properties: map[string]validation.Property{
		"proposalId": {Type: "string", MinLength: validation.Int(1)},
		"decisionId": {Type: "string", MinLength: validation.Int(1)},
	},
	Required: []string{"proposalId", "decisionId"},
})

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewMalformedJobInputError(err)
	}
	if res := inputSchema.Validate(variables); !res.Valid {
		return nil, errors.NewMalformedInputError(res.Errors)
	}
	return &Input{
		ProposalID: variables["proposalId"].(string),
		DecisionID: variables["decisionId"].(string),
	}, nil
}

// Execute tells the group leader (SMS) and the reviewer mailbox (e-mail) how
// a decision turned out. A channel without a recipient is skipped; a channel
// that fails fails the job so it is retried.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	out := &Output{Channels: map[string]string{
		channelSMS:   StatusDisabled,
		channelEmail: StatusDisabled,
	}}
	if !h.config.SMSEnabled && !h.config.EmailEnabled {
		out.Status = StatusDisabled
		return out, nil
	}

	detail, decision, err := h.service.GetDecision(ctx, input.ProposalID, input.DecisionID)
	if err != nil {
		return nil, err
	}
	outcome, err := review.NextStage(decision.Stage, models.DecisionRequest{
		Stage:    decision.Stage,
		Decision: decision.Decision,
	})
	if err != nil {
		return nil, errors.NewInternalFailureError(fmt.Errorf("derive outcome of decision %s: %w", decision.ID, err))
	}

	if h.config.SMSEnabled {
		phone := leaderPhone(detail.Payload)
		if phone == "" {
			out.Channels[channelSMS] = StatusSkipped
		} else {
			id, err := aws.SendSMS(ctx, h.sms, phone, h.config.SMSSenderID, smsText(detail, decision, outcome))
			if err != nil {
				return nil, errors.NewNotificationSendFailedError(channelSMS, err)
			}
			out.SMSMessageID = id
			out.Channels[channelSMS] = StatusSent
		}
	}

	if h.config.EmailEnabled {
		if h.config.ReviewerEmail == "" {
			out.Channels[channelEmail] = StatusSkipped
		} else {
			id, err := aws.SendEmail(ctx, h.email, aws.Email{
				From:    h.config.FromEmail,
				To:      []string{h.config.ReviewerEmail},
				Subject: emailSubject(detail, outcome),
				Text:    emailText(detail, decision, outcome),
			})
			if err != nil {
				return nil, errors.NewNotificationSendFailedError(channelEmail, err)
			}
			out.EmailMessageID = id
			out.Channels[channelEmail] = StatusSent
		}
	}

	out.Status = StatusSkipped
	for _, status := range out.Channels {
		if status == StatusSent {
			out.Status = StatusSent
		}
	}
	h.logger.Info("Review outcome notification processed", map[string]interface{}{
		"proposalId": input.ProposalID,
		"decisionId": input.DecisionID,
		"outcome":    string(outcome),
		"status":     out.Status,
		"sms":        out.Channels[channelSMS],
		"email":      out.Channels[channelEmail],
	})
	return out, nil
}

// leaderPhone prefers the proposal-level phone, then the flagged leader's own.
func leaderPhone(p models.NormalizedProposal) string {
	if p.LeaderPhone != nil && validation.ValidatePhone(*p.LeaderPhone) {
		return strings.TrimSpace(*p.LeaderPhone)
	}
	for _, m := range p.Members {
		if m.IsLeader != nil && *m.IsLeader && m.Phone != nil && validation.ValidatePhone(*m.Phone) {
			return strings.TrimSpace(*m.Phone)
		}
	}
	return ""
}

func groupLabel(p models.NormalizedProposal) string {
	if p.GroupName != "" {
		return p.GroupName
	}
	return p.GroupID
}

func outcomeText(outcome models.Stage) string {
	switch outcome {
	case models.StageRiskReview:
		return "passed document review and moved to risk review"
	case models.StageApproved:
		return "was approved"
	case models.StageRejected:
		return "was rejected"
	case models.StageChangesRequested:
		return "needs changes before review can continue"
	default:
		return "moved to " + string(outcome)
	}
}

func smsText(detail *models.ProposalDetail, d *models.Decision, outcome models.Stage) string {
	msg := fmt.Sprintf("Loan proposal for %s %s.", groupLabel(detail.Payload), outcomeText(outcome))
	if outcome == models.StageChangesRequested && len(d.Reasons) > 0 {
		msg += " Reasons: " + strings.Join(d.Reasons, "; ")
	}
	return msg
}

func emailSubject(detail *models.ProposalDetail, outcome models.Stage) string {
	return fmt.Sprintf("[%s] Proposal %s - %s", outcome, detail.ID, groupLabel(detail.Payload))
}

func emailText(detail *models.ProposalDetail, d *models.Decision, outcome models.Stage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Proposal %s for %s %s.\n\n", detail.ID, groupLabel(detail.Payload), outcomeText(outcome))
	fmt.Fprintf(&b, "Decision: %s at %s\n", d.Decision, d.Stage)
	fmt.Fprintf(&b, "Reviewer: %s\n", d.UserID)
	fmt.Fprintf(&b, "Recorded: %s\n", d.CreatedAt.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Members: %d, total amount: %.2f\n", len(detail.Payload.Members), detail.Payload.TotalAmount)
	if len(d.Reasons) > 0 {
		fmt.Fprintf(&b, "Reasons:\n")
		for _, r := range d.Reasons {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	if d.Comment != nil && *d.Comment != "" {
		fmt.Fprintf(&b, "Comment: %s\n", *d.Comment)
	}
	return b.String()
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func (h *Handler) GetConfig() *Config {
	return h.config
}
