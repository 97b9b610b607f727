package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
	"github.com/fyrsmithlabs/ctxrouter/internal/compression"
	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
	"github.com/fyrsmithlabs/ctxrouter/internal/pipeline"
	"github.com/fyrsmithlabs/ctxrouter/internal/router"
)

var errInvalidArgument = errors.New("invalid argument")

func (s *Server) registerTools() {
	s.registerRouteTool()
	s.registerCompressTool()
	s.registerOutcomeTool()
	s.registerEffectivenessTool()
}

// ===== ROUTING =====

type scopeInput struct {
	FileCount int `json:"file_count,omitempty" jsonschema:"Number of files the operation touches"`
	DirCount  int `json:"dir_count,omitempty" jsonschema:"Number of directories the operation touches"`
}

type routeRequestInput struct {
	OperationID     string     `json:"operation_id" jsonschema:"Caller-chosen identifier echoed in the response and used by record_outcome"`
	Kind            string     `json:"kind,omitempty" jsonschema:"Operation kind such as read, edit, build or refactor"`
	IntentText      string     `json:"intent_text,omitempty" jsonschema:"Free text describing what the operation should achieve"`
	Scope           scopeInput `json:"scope,omitempty" jsonschema:"Size of the operation"`
	DeclaredScope   []string   `json:"declared_scope,omitempty" jsonschema:"Paths the operation declares it will touch"`
	SessionID       string     `json:"session_id,omitempty" jsonschema:"Session identifier; history within a session informs analysis"`
	UserID          string     `json:"user_id,omitempty" jsonschema:"User identifier for learned effectiveness"`
	ProjectID       string     `json:"project_id,omitempty" jsonschema:"Project identifier for learned effectiveness"`
	HasDependencies bool       `json:"has_dependencies,omitempty" jsonschema:"True when steps depend on each other"`
	Context         string     `json:"context,omitempty" jsonschema:"Context payload to compress along with routing"`
	Pressure        float64    `json:"resource_pressure,omitempty" jsonschema:"Resource pressure in [0,1] that selects the compression level"`
	Classification  string     `json:"classification,omitempty" jsonschema:"PROTECTED, USER or SESSION; detected when omitted"`
}

func (in routeRequestInput) request() pipeline.Request {
	return pipeline.Request{
		OperationRequest: analyzer.OperationRequest{
			OperationID:     in.OperationID,
			Kind:            in.Kind,
			IntentText:      in.IntentText,
			Scope:           analyzer.Scope{FileCount: in.Scope.FileCount, DirCount: in.Scope.DirCount},
			DeclaredScope:   in.DeclaredScope,
			SessionID:       in.SessionID,
			UserID:          in.UserID,
			ProjectID:       in.ProjectID,
			HasDependencies: in.HasDependencies,
		},
		Context:        in.Context,
		Pressure:       in.Pressure,
		Classification: compression.Classification(in.Classification),
	}
}

func (s *Server) registerRouteTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "route_request",
		Description: "Analyze an operation and choose the capability providers that should serve it",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args routeRequestInput) (*mcp.CallToolResult, pipeline.Response, error) {
		done := s.metrics.track(ctx, "route_request")

		resp := s.pipeline.Process(ctx, args.request())
		if resp.CompressionApplied {
			s.metrics.RecordTokensSaved(ctx, compression.EstimateTokens(args.Context), compression.EstimateTokens(resp.CompressedContext))
		}
		done(nil)

		text := fmt.Sprintf("%s: native handling", resp.OperationID)
		if len(resp.Providers) > 0 {
			text = fmt.Sprintf("%s: %v via %s (~%dms)", resp.OperationID, resp.Providers, resp.Strategy, resp.EstimatedCostMS)
		}
		if resp.FallbackMode {
			text += " [fallback]"
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, resp, nil
	})
}

// ===== COMPRESSION =====

type compressInput struct {
	Content        string  `json:"content" jsonschema:"Text to compress"`
	Pressure       float64 `json:"resource_pressure" jsonschema:"Resource pressure in [0,1]; higher compresses harder"`
	Classification string  `json:"classification,omitempty" jsonschema:"PROTECTED, USER or SESSION; detected when omitted"`
	SessionID      string  `json:"session_id,omitempty" jsonschema:"Session identifier"`
	UserID         string  `json:"user_id,omitempty" jsonschema:"User identifier"`
	ProjectID      string  `json:"project_id,omitempty" jsonschema:"Project identifier"`
}

func (s *Server) registerCompressTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "compress_content",
		Description: "Compress a context payload under resource pressure while preserving key terms, code and references",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args compressInput) (*mcp.CallToolResult, pipeline.CompressResponse, error) {
		done := s.metrics.track(ctx, "compress_content")

		if args.Content == "" {
			err := fmt.Errorf("%w: content is required", errInvalidArgument)
			done(err)
			return nil, pipeline.CompressResponse{}, err
		}
		if args.Pressure < 0 || args.Pressure > 1 {
			err := fmt.Errorf("%w: resource_pressure %v outside [0,1]", errInvalidArgument, args.Pressure)
			done(err)
			return nil, pipeline.CompressResponse{}, err
		}

		resp := s.pipeline.Compress(ctx, pipeline.CompressRequest{
			Content:        args.Content,
			Classification: compression.Classification(args.Classification),
			Pressure:       args.Pressure,
			SessionID:      args.SessionID,
			UserID:         args.UserID,
			ProjectID:      args.ProjectID,
		})
		s.metrics.RecordTokensSaved(ctx, resp.OriginalTokens, resp.CompressedTokens)
		done(nil)

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: resp.Content}},
		}, resp, nil
	})
}

// ===== LEARNING =====

type recordOutcomeInput struct {
	OperationID   string  `json:"operation_id" jsonschema:"Operation identifier from route_request"`
	Effectiveness float64 `json:"effectiveness" jsonschema:"How well the operation went, in [0,1]"`
	Confidence    float64 `json:"confidence,omitempty" jsonschema:"Confidence in the assessment, in [0,1] (default: 1)"`
	ProviderID    string  `json:"provider_id,omitempty" jsonschema:"Attribute the outcome to one chosen provider only"`
}

type recordOutcomeOutput struct {
	OperationID string `json:"operation_id" jsonschema:"Operation identifier"`
	Status      string `json:"status" jsonschema:"recorded"`
}

func (s *Server) registerOutcomeTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_outcome",
		Description: "Report how a routed operation went so future routing can learn from it",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args recordOutcomeInput) (*mcp.CallToolResult, recordOutcomeOutput, error) {
		done := s.metrics.track(ctx, "record_outcome")

		err := s.pipeline.RecordOutcome(ctx, pipeline.Outcome{
			OperationID:   args.OperationID,
			Effectiveness: args.Effectiveness,
			Confidence:    args.Confidence,
			ProviderID:    args.ProviderID,
		})
		done(err)
		if err != nil {
			return nil, recordOutcomeOutput{}, fmt.Errorf("record outcome failed: %w", err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Outcome recorded: %s", args.OperationID)}},
		}, recordOutcomeOutput{OperationID: args.OperationID, Status: "recorded"}, nil
	})
}

type effectivenessInput struct {
	Fingerprint string `json:"fingerprint,omitempty" jsonschema:"Learning fingerprint; derived from shape and provider when omitted"`
	Shape       string `json:"shape,omitempty" jsonschema:"Request shape as reported by routing"`
	Provider    string `json:"provider,omitempty" jsonschema:"Provider identifier"`
	SessionID   string `json:"session_id,omitempty" jsonschema:"Session identifier"`
	UserID      string `json:"user_id,omitempty" jsonschema:"User identifier"`
	ProjectID   string `json:"project_id,omitempty" jsonschema:"Project identifier"`
}

type effectivenessOutput struct {
	Fingerprint   string  `json:"fingerprint" jsonschema:"Fingerprint looked up"`
	Effectiveness float64 `json:"effectiveness" jsonschema:"Learned effectiveness in [0,1]; 0.5 when unknown"`
}

func (s *Server) registerEffectivenessTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_effectiveness",
		Description: "Read the learned effectiveness of a provider for a request shape",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args effectivenessInput) (*mcp.CallToolResult, effectivenessOutput, error) {
		done := s.metrics.track(ctx, "get_effectiveness")

		fp := args.Fingerprint
		if fp == "" {
			if args.Shape == "" || args.Provider == "" {
				err := fmt.Errorf("%w: fingerprint or shape and provider are required", errInvalidArgument)
				done(err)
				return nil, effectivenessOutput{}, err
			}
			fp = router.Fingerprint(args.Shape, args.Provider)
		}
		out := effectivenessOutput{
			Fingerprint: fp,
			Effectiveness: s.pipeline.Effectiveness(ctx, fp, learning.Lineage{
				SessionID: args.SessionID,
				UserID:    args.UserID,
				ProjectID: args.ProjectID,
			}),
		}
		done(nil)

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s: %.3f", fp, out.Effectiveness)}},
		}, out, nil
	})
}
