package searchproposals

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/mitchellh/mapstructure"

	"loan-review-workers/internal/common/camunda"
	"loan-review-workers/internal/common/config"
	"loan-review-workers/internal/common/errors"
	"loan-review-workers/internal/common/logger"
	"loan-review-workers/internal/common/metrics"
	"loan-review-workers/internal/common/validation"
	"loan-review-workers/internal/models"
	"loan-review-workers/internal/search"
)

const TaskType = "search-proposals"

type Handler struct {
	config     *Config
	logger     logger.Logger
	searcher   Searcher
	errHandler *errors.ErrorHandler
	schema     *validation.Validator
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Searcher     Searcher
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Searcher == nil {
		return nil, fmt.Errorf("%s requires a search index", TaskType)
	}

	schema, err := validation.Compile(inputSchema(workerConfig.MaxLimit))
	if err != nil {
		return nil, fmt.Errorf("compile %s input schema: %w", TaskType, err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"worker": TaskType})

	return &Handler{
		config:     workerConfig,
		logger:     log,
		searcher:   opts.Searcher,
		errHandler: errors.NewErrorHandler(log),
		schema:     schema,
	}, nil
}

func inputSchema(maxLimit int) validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"query": {Type: "string", MaxLength: validation.Int(256)},
			"stage": {Type: "string", Enum: models.StageNames()},
			"limit": {Type: "integer", Minimum: validation.Float(1), Maximum: validation.Float(float64(maxLimit))},
		},
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	timer := metrics.StartJob(TaskType)

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Debug("Searching proposals", map[string]interface{}{
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

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewMalformedJobInputError(err)
	}

	candidate := make(map[string]interface{}, 3)
	for _, field := range []string{"query", "stage", "limit"} {
		if v, ok := variables[field]; ok && v != nil {
			candidate[field] = v
		}
	}
	if res := h.schema.Validate(candidate); !res.Valid {
		return nil, errors.NewMalformedInputError(res.Errors)
	}

	input := &Input{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           input,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.NewInternalFailureError(fmt.Errorf("create decoder: %w", err))
	}
	if err := decoder.Decode(candidate); err != nil {
		return nil, errors.NewMalformedJobInputError(err)
	}
	return input, nil
}

// Execute runs a full-text query over the proposal index. The index may lag
// the repository by the latest decisions.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	res, err := h.searcher.Search(ctx, search.Query{
		Text:  input.Query,
		Stage: input.Stage,
		Limit: input.Limit,
	})
	if stderrors.Is(err, search.ErrEmptyQuery) {
		return nil, errors.NewMalformedInputError([]validation.ValidationError{{
			Field:   "query",
			Code:    validation.CodeRequiredFieldMissing,
			Message: "query or stage is required",
		}})
	}
	if err != nil {
		h.logger.Error("Proposal search failed", map[string]interface{}{
			"index": h.config.Index,
			"error": err.Error(),
		})
		return nil, errors.NewSearchQueryFailedError(h.config.Index, err)
	}

	proposals := res.Proposals
	if proposals == nil {
		proposals = []models.ProposalSummary{}
	}
	h.logger.Info("Proposal search completed", map[string]interface{}{
		"total": res.Total,
		"took":  res.Took,
	})
	return &Output{Total: res.Total, Count: len(proposals), Proposals: proposals}, nil
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
