package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/microsoft/amplifier-bundle-containers/internal/manager"
)

// invokeCmd is the machine boundary: one operation name, JSON parameters on
// stdin or --params, a JSON envelope on stdout. Structured errors exit
// non-zero but still emit parseable JSON.
var invokeCmd = &cobra.Command{
	Use:   "invoke <operation>",
	Short: "Run one operation with JSON parameters",
	Long:  "Runs a single lifecycle operation. Parameters are read as JSON from --params or stdin; the result (or a structured error) is written as JSON to stdout.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := readParams(cmd)
		if err != nil {
			return err
		}

		result, err := appFrom(cmd).Invoke(cmd.Context(), manager.Op(args[0]), params)
		if err != nil {
			var opErr *manager.OpError
			if errors.As(err, &opErr) {
				emit(cmd.OutOrStdout(), map[string]any{"success": false, "error": opErr})
				return err
			}
			return err
		}
		emit(cmd.OutOrStdout(), result)
		return nil
	},
}

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List the available operations",
	Run: func(cmd *cobra.Command, args []string) {
		for _, op := range manager.Ops() {
			fmt.Fprintln(cmd.OutOrStdout(), op)
		}
	},
}

func readParams(cmd *cobra.Command) (json.RawMessage, error) {
	if flag, _ := cmd.Flags().GetString("params"); flag != "" {
		return json.RawMessage(flag), nil
	}
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return nil, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read parameters from stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

func emit(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
	}
}

func init() {
	invokeCmd.Flags().String("params", "", "operation parameters as a JSON object")
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(opsCmd)
}
