package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/mikey/phish-guard/internal/adapters/filter"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/di"
)

func main() {
	flags := di.ParseFlags()

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(
	flags *di.CLIFlags,
	logger *zap.Logger,
	parser core.MessageParser,
	cliFilter *filter.CliFilter,
	scorer core.Scorer,
) error {
	defer logger.Sync()

	// Read email from file or stdin
	var emailReader io.Reader
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file %s: %w", flags.InputFile, err)
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", flags.InputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	raw, err := io.ReadAll(emailReader)
	if err != nil {
		return fmt.Errorf("failed to read email: %w", err)
	}

	email := parser.ParseRaw(raw)
	email.UserID = flags.UserID

	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", email.From)
	fmt.Printf("To: %s\n", email.To)
	fmt.Printf("Subject: %s\n", email.Subject)
	fmt.Printf("Body length: %d bytes\n", len(email.Body))
	fmt.Printf("Scorer: %s %s\n", scorer.Mode(), scorer.Version())

	_, err = cliFilter.ProcessEmail(context.Background(), email)

	if closer, ok := scorer.(interface{ Close() error }); ok {
		if cerr := closer.Close(); cerr != nil {
			logger.Error("Failed to close scorer", zap.Error(cerr))
		}
	}
	return err
}
