// Package mcp exposes the query service as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/query"
	"github.com/sirupsen/logrus"
)

const (
	serverName    = "osspulse"
	serverVersion = "0.1.0"
)

// MonthSliceArgs selects one month of a family.
type MonthSliceArgs struct {
	Foundation string `json:"foundation,omitempty" jsonschema:"apache (default) or eclipse"`
	Family     string `json:"family" jsonschema:"tech_net, social_net, commit_links, issue_links, email_links, commit_measure, email_measure or grad_forecast"`
	ProjectID  string `json:"project_id" jsonschema:"project id, case and punctuation insensitive"`
	Month      int    `json:"month" jsonschema:"month index starting at 1"`
}

// PredictionArgs selects the base month of a forecast adjustment.
type PredictionArgs struct {
	Foundation string `json:"foundation,omitempty" jsonschema:"apache (default) or eclipse"`
	ProjectID  string `json:"project_id" jsonschema:"project id"`
	Month      int    `json:"month" jsonschema:"base month"`
}

// ListProjectsArgs selects the namespace to list.
type ListProjectsArgs struct {
	Foundation string `json:"foundation,omitempty" jsonschema:"apache (default) or eclipse"`
}

type Server struct {
	query  *query.Service
	server *mcp.Server
	logger logrus.FieldLogger
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(svc *query.Service, logger logrus.FieldLogger) *Server {
	s := &Server{
		query:  svc,
		server: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil),
		logger: logger.WithField("component", "mcp"),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_month_slice",
		Description: "Return one month of a project's socio-technical data family",
	}, s.getMonthSlice)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_predictions",
		Description: "Return the graduation forecast for the three months after a base month, adjusted by the base month's value",
	}, s.getPredictions)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_projects",
		Description: "List project info records of a foundation",
	}, s.listProjects)

	return s
}

// MCPServer returns the underlying server for custom transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// RunStdio serves until stdin closes or ctx is cancelled.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("MCP server listening on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) getMonthSlice(ctx context.Context, req *mcp.CallToolRequest, args MonthSliceArgs) (*mcp.CallToolResult, any, error) {
	foundation, err := parseFoundation(args.Foundation)
	if err != nil {
		return nil, nil, err
	}
	family, err := models.ParseFamily(args.Family)
	if err != nil {
		return nil, nil, errors.MalformedInputf("unknown family %q", args.Family)
	}
	slice, err := s.query.MonthSlice(ctx, foundation, family, args.ProjectID, args.Month)
	if err != nil {
		return nil, nil, err
	}
	return textResult(slice)
}

func (s *Server) getPredictions(ctx context.Context, req *mcp.CallToolRequest, args PredictionArgs) (*mcp.CallToolResult, any, error) {
	foundation, err := parseFoundation(args.Foundation)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.query.Predictions(ctx, foundation, args.ProjectID, args.Month)
	if err != nil {
		return nil, nil, err
	}
	return textResult(p)
}

func (s *Server) listProjects(ctx context.Context, req *mcp.CallToolRequest, args ListProjectsArgs) (*mcp.CallToolResult, any, error) {
	foundation, err := parseFoundation(args.Foundation)
	if err != nil {
		return nil, nil, err
	}
	projects, err := s.query.Projects(ctx, foundation)
	if err != nil {
		return nil, nil, err
	}
	return textResult(map[string]interface{}{"projects": projects})
}

func parseFoundation(s string) (models.Foundation, error) {
	if s == "" {
		return models.FoundationApache, nil
	}
	f, err := models.ParseFoundation(s)
	if err != nil {
		return "", errors.MalformedInputf("unknown foundation %q", s)
	}
	return f, nil
}

func textResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, errors.InternalErrorf("encode tool result: %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
