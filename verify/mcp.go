package verify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/agentcheck/kit"
	"github.com/hazyhaar/agentcheck/lia"
)

// ToolName is the MCP tool exposed by RegisterMCP.
const ToolName = "verify_agent_license"

type toolRequest struct {
	LicenseNumber string `json:"license_number"`
}

// ToolResponse is the MCP tool answer: the API status code plus the
// outcome detail a human reviewer needs.
type ToolResponse struct {
	APIResponse
	RegistrationNumber string             `json:"registration_number,omitempty"`
	Status             lia.Status         `json:"status,omitempty"`
	Outcome            string             `json:"outcome,omitempty"`
	Filename           string             `json:"filename,omitempty"`
	Attempts           int                `json:"attempts,omitempty"`
	Email              *lia.EmailTemplate `json:"email,omitempty"`
}

// RegisterMCP adds the verify_agent_license tool to srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name: ToolName,
		Description: "Check a Taiwan life-insurance agent registration number against the LIA registry. " +
			"status_code 0: first registered within the last year, 1: registered longer ago, " +
			"2: malformed number, 3: not registered, 999: registry unavailable.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"license_number": map[string]any{
					"type":        "string",
					"description": "8 to 10 digit registration number (登錄證字號)",
				},
			},
		},
	}, s.toolEndpoint, decodeToolRequest)
}

func decodeToolRequest(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r toolRequest
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	if r.LicenseNumber == "" {
		return nil, errors.New("license_number is required")
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

func (s *Service) toolEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*toolRequest)
	if _, err := lia.NormalizeRegistrationNumber(r.LicenseNumber); err != nil {
		return ToolResponse{APIResponse: InvalidFormat()}, nil
	}
	res, err := s.Query(ctx, Request{Number: r.LicenseNumber, Source: SourceMCP, SkipScreenshot: true})
	if err != nil {
		return ToolResponse{APIResponse: Unavailable(), Outcome: FailureMessage(err)}, nil
	}
	return ToolResponse{
		APIResponse:        ResponseFor(res.Status),
		RegistrationNumber: res.RegistrationNumber,
		Status:             res.Status,
		Outcome:            res.Message,
		Filename:           res.Filename,
		Attempts:           res.Attempts,
		Email:              &res.Email,
	}, nil
}
