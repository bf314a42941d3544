package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jkaninda/echoservice/internal/config"
	"github.com/jkaninda/echoservice/internal/diag"
	"github.com/jkaninda/echoservice/internal/verify"
)

var (
	verifyConfigPath string
	verifyFail       bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify <kind> [key=value ...]",
	Short: "Run one verification and print the result",
	Long: `Run a single verification in-process and print the result envelope as JSON.
Parameters are passed as key=value pairs, the same names the HTTP route accepts
as query parameters.

Examples:
  echoservice verify blob name=storage container=uploads
  echoservice verify redis name=cache key=health
  echoservice verify dir path=/mnt/share --fail`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	verifyCmd.Flags().BoolVar(&verifyFail, "fail", false, "exit with a non-zero status when the verification fails")
}

// errVerificationFailed is returned with --fail when the result is a failure.
var errVerificationFailed = errors.New("verification failed")

func runVerify(cmd *cobra.Command, args []string) error {
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(verifyConfigPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	scope := diag.NewScope()
	res := sc.Registry.Verify(context.Background(), scope, args[0], params)
	if err := writeResult(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if verifyFail && !res.Success() {
		return errVerificationFailed
	}
	return nil
}

// parseParams turns key=value arguments into verification parameters.
func parseParams(args []string) (verify.Params, error) {
	params := make(verify.Params, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", arg)
		}
		params[k] = v
	}
	return params, nil
}

func writeResult(w io.Writer, res verify.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
