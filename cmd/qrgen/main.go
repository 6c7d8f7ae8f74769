// Command qrgen writes one sign-in QR code per student listed in the roster
// spreadsheets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GiraffeSchool/student-signin-system/internal/cloudinary"
	"github.com/GiraffeSchool/student-signin-system/internal/config"
	"github.com/GiraffeSchool/student-signin-system/internal/credentials"
	"github.com/GiraffeSchool/student-signin-system/internal/ledger"
	"github.com/GiraffeSchool/student-signin-system/internal/logging"
	"github.com/GiraffeSchool/student-signin-system/internal/qrgen"
)

func main() {
	upload := flag.Bool("upload", false, "also upload each image to Cloudinary")
	out := flag.String("out", "", "output directory (default QR_OUTPUT_DIR)")
	flag.Parse()

	if err := run(*upload, *out); err != nil {
		fmt.Fprintln(os.Stderr, "qrgen:", err)
		os.Exit(1)
	}
}

func run(upload bool, outDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, flush := logging.New(logging.Options{
		Level:        cfg.LogLevel,
		Env:          cfg.Env,
		RollbarToken: cfg.RollbarToken,
		Output:       os.Stderr,
	})
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, err := credentials.NewChain(ctx, credentials.Sources{
		EnvJSON:  cfg.GoogleServiceAccount,
		SecretID: cfg.GoogleCredentialsSecretID,
		File:     cfg.GoogleCredentialsFile,
	})
	if err != nil {
		return err
	}
	key, err := chain.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("google credentials: %w", err)
	}
	svc, err := ledger.NewSheetsService(ctx, key)
	if err != nil {
		return err
	}
	lg := ledger.New(ledger.SheetsTables(cfg.Tables, svc, cfg.LedgerTimeout), cfg.Layout, ledger.WithLogger(logger))

	students, err := lg.Roster(ctx)
	if err != nil {
		// Unreadable rosters are reported; the rest still get codes.
		logger.Warn("some rosters could not be read", slog.String("error", err.Error()))
	}

	if outDir == "" {
		outDir = cfg.QROutputDir
	}
	gen := &qrgen.Generator{BaseURL: cfg.QRBaseURL, OutDir: outDir, Logger: logger}
	if upload {
		if !cfg.Cloudinary.Enabled() {
			return fmt.Errorf("-upload needs CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
		}
		c := cfg.Cloudinary
		gen.Uploader = cloudinary.New(c.CloudName, c.APIKey, c.APISecret, c.Folder)
	}

	sum, err := gen.Run(ctx, students)
	for _, f := range sum.Files {
		if f.HostedURL != "" {
			fmt.Printf("%s\t%s\t%s\n", f.StudentID, f.Path, f.HostedURL)
		} else {
			fmt.Printf("%s\t%s\n", f.StudentID, f.Path)
		}
	}
	fmt.Printf("generated %d, skipped %d, failed %d -> %s\n", sum.Generated, sum.Skipped, sum.Failed, outDir)
	return err
}
