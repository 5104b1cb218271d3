package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "wedding-invites",
		Short: "Wedding invitation notifications",
		Long:  "Sends wedding invitations over SMS, WhatsApp, email and push, and collects RSVPs",
		// Usage is noise when a provider or the database fails at runtime.
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhooks",
		RunE:  serve,
	}

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Consume queued dispatch jobs",
		RunE:  runWorker,
	}

	sendCmd = &cobra.Command{
		Use:   "send",
		Short: "Send a template to a contact list and wait for the result",
		RunE:  send,
	}

	pairCmd = &cobra.Command{
		Use:   "pair",
		Short: "Link the WhatsApp device by scanning a QR code",
		RunE:  pair,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE:  migrate,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		RunE:  issueToken,
	}
)

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, sendCmd, pairCmd, migrateCmd, tokenCmd)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (yaml)")

	sendCmd.Flags().String("list", "whatsapp", "contact list (admin or whatsapp)")
	sendCmd.Flags().String("template", "", "template id")
	sendCmd.Flags().String("provider", "", "provider name")
	sendCmd.Flags().String("link", "", "invitation link (defaults to dispatch.invitation_link)")
	sendCmd.Flags().StringSlice("contact", nil, "contact ids (defaults to all active contacts)")
	sendCmd.MarkFlagRequired("template")
	sendCmd.MarkFlagRequired("provider")

	tokenCmd.Flags().String("subject", "admin", "token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
