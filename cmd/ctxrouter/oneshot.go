package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
	"github.com/fyrsmithlabs/ctxrouter/internal/compression"
	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
	"github.com/fyrsmithlabs/ctxrouter/internal/pipeline"
	"github.com/fyrsmithlabs/ctxrouter/internal/router"
)

// readInput reads the named file, or stdin for "-" or no argument.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", args[0], err)
	}
	return data, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRouteCmd() *cobra.Command {
	var kind, intent, session string
	var files int

	cmd := &cobra.Command{
		Use:   "route [request.json]",
		Short: "Route one operation and print the response message",
		Long: `Route one operation and print the response message.

The request is read as JSON from a file or stdin, or built from flags.

Examples:
  echo '{"operation_id":"op-1","kind":"build","intent_text":"add dashboard"}' | ctxrouter route -
  ctxrouter route --kind refactor --intent "split the auth module" --files 12`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req pipeline.Request
			if kind != "" || intent != "" {
				req.OperationRequest = analyzer.OperationRequest{
					OperationID: "cli",
					Kind:        kind,
					IntentText:  intent,
					Scope:       analyzer.Scope{FileCount: files},
					SessionID:   session,
				}
			} else {
				data, err := readInput(cmd, args)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &req); err != nil {
					return fmt.Errorf("invalid request: %w", err)
				}
			}

			a, err := newApp(cmd.Context(), oneShot)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			return printJSON(cmd, a.pipeline.Process(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "operation kind (read, edit, build, refactor, ...)")
	cmd.Flags().StringVar(&intent, "intent", "", "intent text")
	cmd.Flags().IntVar(&files, "files", 1, "number of files in scope")
	cmd.Flags().StringVar(&session, "session", "cli", "session id")
	return cmd
}

func newCompressCmd() *cobra.Command {
	var pressure float64
	var class string
	var raw bool

	cmd := &cobra.Command{
		Use:   "compress [file]",
		Short: "Compress a file or stdin under resource pressure",
		Long: `Compress a file or stdin under resource pressure.

Examples:
  ctxrouter compress --pressure 0.8 notes.md
  cat transcript.txt | ctxrouter compress --pressure 0.5 --classification USER --raw -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pressure < 0 || pressure > 1 {
				return fmt.Errorf("pressure must be between 0 and 1, got %v", pressure)
			}
			c := compression.Classification(class)
			if class != "" && !c.Valid() {
				return fmt.Errorf("unknown classification %q (PROTECTED, USER or SESSION)", class)
			}
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return fmt.Errorf("no content to compress")
			}

			a, err := newApp(cmd.Context(), oneShot)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			resp := a.pipeline.Compress(cmd.Context(), pipeline.CompressRequest{
				Content:        string(data),
				Classification: c,
				Pressure:       pressure,
				SessionID:      "cli",
			})
			if raw {
				_, err := io.WriteString(cmd.OutOrStdout(), resp.Content)
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().Float64Var(&pressure, "pressure", 0.5, "resource pressure in [0,1]")
	cmd.Flags().StringVar(&class, "classification", "", "PROTECTED, USER or SESSION (detected when empty)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print only the compressed content")
	return cmd
}

func newEffectivenessCmd() *cobra.Command {
	var fingerprint, shape, provider, user, project string

	cmd := &cobra.Command{
		Use:   "effectiveness",
		Short: "Print learned effectiveness for a fingerprint",
		Long: `Print learned effectiveness for a fingerprint, or for a provider on a
request shape.

Examples:
  ctxrouter effectiveness --shape "build|f6-20|d1|frontend,performance|false" --provider frontend
  ctxrouter effectiveness --fingerprint "compress|markdown|2" --user alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fingerprint == "" {
				if shape == "" || provider == "" {
					return fmt.Errorf("--fingerprint or both --shape and --provider are required")
				}
				fingerprint = router.Fingerprint(shape, provider)
			}

			a, err := newApp(cmd.Context(), oneShot)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			lineage := learning.Lineage{UserID: user, ProjectID: project}
			return printJSON(cmd, map[string]any{
				"fingerprint":   fingerprint,
				"effectiveness": a.pipeline.Effectiveness(cmd.Context(), fingerprint, lineage),
				"events":        a.store.Stats().Events,
			})
		},
	}
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "learning fingerprint")
	cmd.Flags().StringVar(&shape, "shape", "", "request shape")
	cmd.Flags().StringVar(&provider, "provider", "", "provider id")
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&project, "project", "", "project id")
	return cmd
}
