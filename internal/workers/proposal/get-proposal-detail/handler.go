package getproposaldetail

import (
	"context"
	"fmt"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"loan-review-workers/internal/common/camunda"
	"loan-review-workers/internal/common/config"
	"loan-review-workers/internal/common/errors"
	"loan-review-workers/internal/common/logger"
	"loan-review-workers/internal/common/metrics"
	"loan-review-workers/internal/common/validation"
	"loan-review-workers/internal/models"
)

const TaskType = "get-proposal-detail"

type Handler struct {
	config     *Config
	logger     logger.Logger
	service    DetailReader
	errHandler *errors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Service      DetailReader
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

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"worker": TaskType})

	return &Handler{
		config:     workerConfig,
		logger:     log,
		service:    opts.Service,
		errHandler: errors.NewErrorHandler(log),
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	timer := metrics.StartJob(TaskType)

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Debug("Loading proposal detail", map[string]interface{}{
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
	},
	Required: []string{"proposalId"},
})

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewMalformedJobInputError(err)
	}
	if res := inputSchema.Validate(variables); !res.Valid {
		return nil, errors.NewMalformedInputError(res.Errors)
	}
	return &Input{ProposalID: strings.TrimSpace(variables["proposalId"].(string))}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	detail, err := h.service.GetDetail(ctx, input.ProposalID)
	if err != nil {
		return nil, err
	}
	decisions := detail.Decisions
	if decisions == nil {
		decisions = []models.Decision{}
	}
	return &Output{Proposal: detail.Proposal, Decisions: decisions}, nil
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
