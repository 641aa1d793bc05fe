package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidahmann/creditgate/internal/auth"
	"github.com/davidahmann/creditgate/internal/workflow"
	"github.com/davidahmann/creditgate/pkg/types"
)

func workflowPath(id, suffix string) string {
	return "/v1/workflows/" + url.PathEscape(id) + "/" + suffix
}

// emit prints raw JSON under --json, otherwise calls pretty.
func emit(cmd *cobra.Command, opts *options, raw []byte, pretty func(w io.Writer)) {
	w := cmd.OutOrStdout()
	if opts.jsonOut {
		_, _ = w.Write(raw)
		return
	}
	pretty(w)
}

func requestCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Create and inspect credit requests",
	}

	var (
		req            types.CreditRequest
		kind           string
		requestedLimit float64
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a credit request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Kind = types.RequestKind(strings.ToUpper(kind))
			if cmd.Flags().Changed("limit") {
				limit := requestedLimit
				req.RequestedLimit = &limit
			}
			var created types.CreditRequest
			raw, err := newClient(opts).post(cmd.Context(), "/v1/requests", req, &created)
			if err != nil {
				return err
			}
			emit(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "created request_id=%s customer_id=%s type=%s\n", created.RequestID, created.CustomerID, created.Kind)
			})
			return nil
		},
	}
	create.Flags().StringVar(&req.RequestID, "id", "", "request id (generated when empty)")
	create.Flags().StringVar(&req.CustomerID, "customer", "", "customer id")
	create.Flags().StringVar(&kind, "type", string(types.RequestUnblock), "request type: BLOCK, UNBLOCK or LIMIT_INCREASE")
	create.Flags().Float64Var(&requestedLimit, "limit", 0, "requested credit limit")
	create.Flags().StringVar(&req.Reason, "reason", "", "business reason")
	create.Flags().StringVar(&req.Requestor.Name, "requestor-name", "", "requestor name")
	create.Flags().StringVar(&req.Requestor.Email, "requestor-email", "", "requestor email")
	_ = create.MarkFlagRequired("customer")
	_ = create.MarkFlagRequired("reason")
	_ = create.MarkFlagRequired("requestor-email")

	get := &cobra.Command{
		Use:   "get <request_id>",
		Short: "Show a credit request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var got types.CreditRequest
			raw, err := newClient(opts).get(cmd.Context(), "/v1/requests/"+url.PathEscape(args[0]), &got)
			if err != nil {
				return err
			}
			emit(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "request_id=%s customer_id=%s type=%s\nreason: %s\nrequestor: %s <%s>\n",
					got.RequestID, got.CustomerID, got.Kind, got.Reason, got.Requestor.Name, got.Requestor.Email)
				if got.RequestedLimit != nil {
					fmt.Fprintf(w, "requested_limit: %.2f\n", *got.RequestedLimit)
				}
			})
			return nil
		},
	}

	cmd.AddCommand(create, get)
	return cmd
}

func customersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "customers",
		Short: "List customer credit snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list struct {
				Customers []types.CustomerSnapshot `json:"customers"`
			}
			raw, err := newClient(opts).get(cmd.Context(), "/v1/customers", &list)
			if err != nil {
				return err
			}
			emit(cmd, opts, raw, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tLIMIT\tBLOCKED\tDSO\tRISK")
				for _, c := range list.Customers {
					fmt.Fprintf(tw, "%s\t%s\t%.2f %s\t%t\t%.0f\t%s\n", c.CustomerID, c.Name, c.CurrentLimit, c.Currency, c.CreditBlock, c.DSO, c.RiskCategory)
				}
				_ = tw.Flush()
			})
			return nil
		},
	}
}

func startCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start <request_id>",
		Short: "Start the approval workflow for a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var started map[string]string
			raw, err := newClient(opts).post(cmd.Context(), workflowPath(args[0], "start"), nil, &started)
			if err != nil {
				return err
			}
			emit(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "started request_id=%s status=%s monitor=%s\n", started["request_id"], started["status"], started["monitor_url"])
			})
			return nil
		},
	}
}

func approveCmd(opts *options) *cobra.Command {
	var (
		decision string
		limit    float64
		comments string
	)
	cmd := &cobra.Command{
		Use:   "approve <request_id>",
		Short: "Submit an approval decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"decision": strings.ToUpper(decision),
				"comments": comments,
			}
			if cmd.Flags().Changed("limit") {
				body["approved_limit"] = limit
			}
			raw, err := newClient(opts).post(cmd.Context(), workflowPath(args[0], "approval"), body, nil)
			if err != nil {
				return err
			}
			emit(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "decision %s accepted for %s\n", strings.ToUpper(decision), args[0])
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&decision, "decision", string(types.DecisionApprove), "APPROVE, APPROVE_WITH_CHANGES or REJECT")
	cmd.Flags().Float64Var(&limit, "limit", 0, "approved credit limit")
	cmd.Flags().StringVar(&comments, "comments", "", "approver comments")
	return cmd
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <request_id>",
		Short: "Show the workflow run status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run types.WorkflowRun
			raw, err := newClient(opts).get(cmd.Context(), workflowPath(args[0], "status"), &run)
			if err != nil {
				return err
			}
			emit(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "request_id=%s status=%s state=%s attempt=%d\n", run.RequestID, run.Status, run.State, run.Attempt)
				if run.FailureReason != "" {
					fmt.Fprintf(w, "error: %s\n", run.FailureReason)
				}
			})
			return nil
		},
	}
}

func eventsCmd(opts *options) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "events <request_id>",
		Short: "List workflow events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := workflowPath(args[0], "events")
			if history {
				path += "?history=true"
			}
			var resp struct {
				Events     []types.WorkflowEvent `json:"events"`
				ChainValid bool                  `json:"chain_valid"`
				ChainError string                `json:"chain_error"`
			}
			raw, err := newClient(opts).get(cmd.Context(), path, &resp)
			if err != nil {
				return err
			}
			emit(cmd, opts, raw, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SEQ\tATTEMPT\tSTEP\tSTATUS\tACTOR\tTIME")
				for _, ev := range resp.Events {
					fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", ev.Seq, ev.Attempt, ev.Stage, ev.Status, ev.Actor, ev.Timestamp.Format(time.RFC3339))
				}
				_ = tw.Flush()
				if resp.ChainValid {
					fmt.Fprintln(w, "chain: valid")
				} else {
					fmt.Fprintf(w, "chain: BROKEN (%s)\n", resp.ChainError)
				}
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "include events from earlier attempts")
	return cmd
}

func summaryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <request_id>",
		Short: "Show the summary of a completed workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary types.WorkflowSummary
			raw, err := newClient(opts).get(cmd.Context(), workflowPath(args[0], "summary"), &summary)
			if err != nil {
				return err
			}
			emit(cmd, opts, raw, func(w io.Writer) { printSummary(w, summary) })
			return nil
		},
	}
}

func printSummary(w io.Writer, summary types.WorkflowSummary) {
	fmt.Fprintf(w, "final_decision=%s final_credit_limit=%.2f final_block_status=%t\n\n", summary.FinalDecision, summary.FinalCreditLimit, summary.FinalBlocked)
	fmt.Fprintln(w, strings.TrimSpace(summary.Synopsis))
	if len(summary.Narrative) > 0 {
		fmt.Fprintln(w)
		for _, line := range summary.Narrative {
			fmt.Fprintf(w, "  - %s\n", line)
		}
	}
}

func receiptCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <request_id>",
		Short: "Show and verify the signed run receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report workflow.ReceiptReport
			raw, err := newClient(opts).get(cmd.Context(), workflowPath(args[0], "receipt"), &report)
			if err != nil {
				return err
			}
			emit(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "receipt_id=%s attempt=%d key_id=%s verified=%t grade=%s\n",
					report.Receipt.ReceiptID, report.Receipt.Attempt, report.Receipt.KeyID, report.Verified, report.Grade.Grade)
				if report.VerifyError != "" {
					fmt.Fprintf(w, "verify_error: %s\n", report.VerifyError)
				}
				for _, reason := range report.Grade.Reasons {
					fmt.Fprintf(w, "  - %s\n", reason)
				}
			})
			if !report.Verified {
				return fmt.Errorf("receipt %s did not verify", report.Receipt.ReceiptID)
			}
			return nil
		},
	}
}

func quickRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "quick-run <scenario>",
		Short:     "Run a demo scenario end to end",
		Args:      cobra.ExactArgs(1),
		ValidArgs: workflow.Scenarios(),
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary types.WorkflowSummary
			raw, err := newClient(opts).post(cmd.Context(), "/v1/demo/quick-run/"+url.PathEscape(args[0]), nil, &summary)
			if err != nil {
				return err
			}
			emit(cmd, opts, raw, func(w io.Writer) {
				fmt.Fprintf(w, "request_id=%s\n", summary.RequestID)
				printSummary(w, summary)
			})
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		email   string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 bearer token for an operator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := auth.IssueToken([]byte(secret), subject, email, auth.Role(role), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "server jwt_secret")
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringVar(&email, "email", "", "subject email")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleApprover), "approver, requestor or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("secret")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
