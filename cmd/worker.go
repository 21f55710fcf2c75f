/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/exambook/apiserver/internal/mail"
	"github.com/exambook/apiserver/internal/mq"
)

// workerCmd groups background consumers.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a background worker",
}

var mailWorkerCmd = &cobra.Command{
	Use:   "mail",
	Short: "Deliver queued mail over SMTP",
	Long: `Consumes MAIL_QUEUE from the configured MQ_BACKEND and delivers each
message over SMTP. Run it when the server uses MAIL_TRANSPORT=queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer queue.Close()

		return mail.NewWorker(queue, cfg.Mail.Queue, mail.NewSMTPMailer(cfg.Mail)).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(mailWorkerCmd)
}
