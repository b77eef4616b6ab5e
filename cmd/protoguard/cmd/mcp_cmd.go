package cmd

import (
	"context"

	"protoguard/internal/logging"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func NewMCPCmd() *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the validator over the Model Context Protocol",
	}
	mcpCmd.AddCommand(newMCPServeCmd())
	return mcpCmd
}

type validateToolInput struct {
	Payload string `json:"payload" jsonschema:"raw model output to validate as a protocol message"`
}

func newMCPServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve an MCP stdio server with a validate_output tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.FromContext(cmd.Context())

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			validator := newValidatorFromConfig(cfg)

			server := mcp.NewServer(&mcp.Implementation{
				Name:    "protoguard",
				Version: "1.0.0",
			}, nil)

			mcp.AddTool(server, &mcp.Tool{
				Name:        "validate_output",
				Description: "Validate raw model output against the two-form protocol schema and report a verdict",
			}, func(ctx context.Context, req *mcp.CallToolRequest, in validateToolInput) (*mcp.CallToolResult, any, error) {
				out, verr := validator.Validate([]byte(in.Payload))
				result := makeVerdict(out, verr)
				return &mcp.CallToolResult{
					Content: []mcp.Content{
						&mcp.TextContent{Text: string(mustMarshalJSON(result))},
					},
				}, nil, nil
			})

			logger.Info("mcp server serving on stdio", "tool", "validate_output")
			return server.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}
