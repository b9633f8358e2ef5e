package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/auth"
	"github.com/frahmantamala/transport-fees/internal/billing"
)

var generateCmd = &cobra.Command{
	Use:   "generate [period]",
	Short: "Generate fee records for a billing period",
	Long:  `Create one fee record per active student for the period (YYYY-MM). Existing records are left alone.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runGenerate(args[0])
	},
}

var remindCmd = &cobra.Command{
	Use:   "remind [period]",
	Short: "Send payment reminders for unpaid records",
	Long:  `Publish a reminder event for every pending or failed record of the period and wait for the notifications to be queued.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runRemind(args[0])
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue a development access token",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		issueToken(args[0])
	},
}

var (
	generateDueDate string
	tokenRole       string
	tokenStudents   string
	tokenTTL        time.Duration
)

func runGenerate(period string) {
	cfg := mustLoadConfig()
	deps, err := initializeDependencies(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	result, err := deps.Generator.Generate(context.Background(), internal.SystemCaller, billing.GenerateRequest{
		Period:  period,
		DueDate: generateDueDate,
	})
	if err != nil {
		deps.Logger.Error("fee generation failed", "period", period, "error", err)
		deps.Close()
		os.Exit(1)
	}
	printJSON(result)
}

func runRemind(period string) {
	cfg := mustLoadConfig()
	deps, err := initializeDependencies(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	sent, err := deps.Reports.SendReminders(context.Background(), internal.SystemCaller, period)
	if err != nil {
		deps.Logger.Error("failed to send reminders", "period", period, "error", err)
		deps.Close()
		os.Exit(1)
	}
	deps.Logger.Info("reminders published", "period", period, "sent", sent)
}

func issueToken(userID string) {
	cfg := mustLoadConfig()

	caller := internal.Caller{UserID: userID, Role: internal.Role(tokenRole)}
	if tokenStudents != "" {
		for _, ref := range strings.Split(tokenStudents, ",") {
			if ref = strings.TrimSpace(ref); ref != "" {
				caller.StudentRefs = append(caller.StudentRefs, ref)
			}
		}
	}
	if caller.Role != internal.RoleAdmin && caller.Role != internal.RoleGuardian {
		fmt.Fprintf(os.Stderr, "role must be admin or guardian\n")
		os.Exit(1)
	}

	tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, tokenTTL)
	token, err := tokens.GenerateAccessToken(caller)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func init() {
	generateCmd.Flags().StringVar(&generateDueDate, "due-date", "", "due date override, YYYY-MM-DD")

	tokenCmd.Flags().StringVar(&tokenRole, "role", "guardian", "admin or guardian")
	tokenCmd.Flags().StringVar(&tokenStudents, "students", "", "comma separated student refs for a guardian")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(remindCmd)
	rootCmd.AddCommand(tokenCmd)
}
