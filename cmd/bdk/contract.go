package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/contract"
	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
)

var (
	contractSchemaVersion int
	contractBaseline      int
	contractFrom          int
	contractTo            int
)

var contractCmd = &cobra.Command{
	Use:   "contract",
	Short: "Validate machine lines against the versioned schemas",
}

var contractValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate BDK_* lines read from stdin",
	Long: `Validate every BDK_* line on stdin against its schema. Other lines are
ignored, so the full output of a bdk command can be piped in.

With --baseline the lines are checked against an older schema instead: kinds
and fields the baseline does not define are additions and do not fail.`,
	Args: cobra.NoArgs,
	RunE: runContractValidate,
}

var contractCheckAdditiveCmd = &cobra.Command{
	Use:   "check-additive",
	Short: "Verify that one schema version only adds to another",
	Args:  cobra.NoArgs,
	RunE:  runContractCheckAdditive,
}

func init() {
	contractValidateCmd.Flags().IntVar(&contractSchemaVersion, "schema-version", contract.CurrentVersion, "Schema version to validate against")
	contractValidateCmd.Flags().IntVar(&contractBaseline, "baseline", 0, "Check compatibility with this older schema version")
	contractCheckAdditiveCmd.Flags().IntVar(&contractFrom, "from", 1, "Older schema version")
	contractCheckAdditiveCmd.Flags().IntVar(&contractTo, "to", contract.CurrentVersion, "Newer schema version")
	contractCmd.AddCommand(contractValidateCmd)
	contractCmd.AddCommand(contractCheckAdditiveCmd)
	rootCmd.AddCommand(contractCmd)
}

func runContractValidate(cmd *cobra.Command, args []string) error {
	invalid, checked, err := validateLines(cmd.InOrStdin(), cmd.OutOrStdout(), contractSchemaVersion, contractBaseline)
	if err != nil {
		return err
	}
	if invalid > 0 {
		return bdkerrors.Newf(bdkerrors.InvalidInput, "contract_invalid", "%d of %d lines failed validation", invalid, checked)
	}
	return nil
}

// validateLines reports one result per BDK_* line of r and returns the
// number of invalid and checked lines.
func validateLines(r io.Reader, w io.Writer, version, baseline int) (invalid, checked int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "BDK_") {
			continue
		}
		checked++

		var report *contract.Report
		var verr error
		if baseline > 0 {
			report, verr = contract.CheckCompat(line, baseline)
		} else {
			report, verr = contract.Validate(line, version)
		}
		switch {
		case verr != nil:
			invalid++
			fmt.Fprintf(w, "line %d: invalid: %v\n", n, verr)
		case !report.Valid:
			invalid++
			fmt.Fprintf(w, "line %d: %s v%d invalid: %s\n", n, report.Kind.Token(), report.SchemaVersion, strings.Join(report.Errors, "; "))
		case report.UnknownKind || len(report.UnknownFields) > 0:
			fmt.Fprintf(w, "line %d: %s ok against v%d with additions %v\n", n, report.Kind.Token(), report.SchemaVersion, report.UnknownFields)
		default:
			fmt.Fprintf(w, "line %d: %s ok\n", n, report.Kind.Token())
		}
	}
	if err := scanner.Err(); err != nil {
		return invalid, checked, fmt.Errorf("read lines: %w", err)
	}
	return invalid, checked, nil
}

func runContractCheckAdditive(cmd *cobra.Command, args []string) error {
	violations, err := contract.CheckAdditive(contractFrom, contractTo)
	if err != nil {
		return bdkerrors.New(bdkerrors.InvalidInput, "schema_unknown", "cannot compare schema versions", err)
	}
	out := cmd.OutOrStdout()
	if len(violations) == 0 {
		fmt.Fprintf(out, "v%d is an additive extension of v%d\n", contractTo, contractFrom)
		return nil
	}
	for _, v := range violations {
		fmt.Fprintln(out, v.String())
	}
	return bdkerrors.Newf(bdkerrors.InvalidInput, "contract_breaking", "v%d breaks v%d in %d places", contractTo, contractFrom, len(violations))
}
