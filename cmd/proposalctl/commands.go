package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sumire/proposals/internal/app"
	"github.com/sumire/proposals/internal/domain"
	"github.com/sumire/proposals/internal/service"
)

// operator acts with reviewer rights for commands that run outside the HTTP API.
var operator = service.Claims{UserID: "proposalctl", Role: domain.RoleReviewer, Name: "proposalctl"}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every proposal record",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			return fmt.Errorf("this deletes all proposals; re-run with --confirm")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Proposals.Clear(ctx, operator)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d proposal(s)\n", n)
			return nil
		})
	},
}

// --- recover ---

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Mark processing records left behind by a stopped server as failed",
	Long: `Mark processing records left behind by a stopped server as failed.

Only records whose last update is older than --older-than are touched, so a
running server's in-flight jobs are left alone when the threshold is generous.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan < 0 {
			return fmt.Errorf("--older-than must not be negative")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Coordinator.RecoverOrphans(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d job(s) as failed\n", n)
			return nil
		})
	},
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every proposal with its owner to an Excel workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return fmt.Errorf("--out is required")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			data, err := a.Proposals.Export(ctx, operator)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, humanize.IBytes(uint64(len(data))))
			return nil
		})
	},
}

// --- add-user ---

var addUserCmd = &cobra.Command{
	Use:   "add-user",
	Short: "Register an account for password login",
	Long: `Register an account for password login.

Examples:
  proposalctl add-user --name "Review Desk" --email desk@naccr.gov.in --password s3cret! --role naccr
  proposalctl add-user --name "Asha Rao" --email asha@example.com --password hunter22`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		role, _ := cmd.Flags().GetString("role")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			user, err := a.Auth.Register(ctx, service.SignupRequest{
				Name:     name,
				Email:    email,
				Password: password,
				Role:     domain.Role(role),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s user %s (%s)\n", user.Role, user.ID, user.Email)
			return nil
		})
	},
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm deletion of all proposals")

	recoverCmd.Flags().Duration("older-than", 30*time.Minute, "only fail records idle for at least this long")

	exportCmd.Flags().StringP("out", "o", "proposals.xlsx", "output file")

	addUserCmd.Flags().String("name", "", "display name")
	addUserCmd.Flags().String("email", "", "login email")
	addUserCmd.Flags().String("password", "", "login password")
	addUserCmd.Flags().String("role", string(domain.RoleSubmitter), "account role (user or naccr)")
	_ = addUserCmd.MarkFlagRequired("name")
	_ = addUserCmd.MarkFlagRequired("email")
	_ = addUserCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(clearCmd, recoverCmd, exportCmd, addUserCmd)
}
