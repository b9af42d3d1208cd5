package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"page-ocr-translate/src/app"
	"page-ocr-translate/src/clipboard"
	"page-ocr-translate/src/config"
	"page-ocr-translate/src/logutil"
	"page-ocr-translate/src/tui"
	"page-ocr-translate/src/web"
)

type mainOptions struct {
	page       string
	apiKeyPath string
	storeDSN   string
	httpAddr   string
	headless   bool
}

// legacyFlags are accepted with a single dash as well.
var legacyFlags = []string{"page", "api-key-path", "store-dsn", "http-addr", "headless"}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args))
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"page-ocr-translate"}
	}

	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "page-ocr-translate",
		Short:         "Select images on a page, OCR and translate them",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.page == "" && len(args) == 1 {
				opts.page = args[0]
			}
			if opts.page == "" {
				return errors.New("a page is required (--page URL or file)")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWithOptions(ctx, *opts)
		},
	}

	cmd.Flags().StringVar(&opts.page, "page", "", "URL or file path of the page to work on")
	cmd.Flags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	cmd.Flags().StringVar(&opts.storeDSN, "store-dsn", "", "Override STORE_DSN")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "Override HTTP_ADDR for the results viewer")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Run without the control panel until interrupted")

	return cmd
}

func runWithOptions(ctx context.Context, opts mainOptions) error {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		APIKeyPathOverride: opts.apiKeyPath,
		StoreDSNOverride:   opts.storeDSN,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.httpAddr != "" {
		cfg.HTTPAddr = opts.httpAddr
	}
	logutil.Setup(cfg.EnableFileLogging)
	log.Printf("Config: provider=%s model=%s target=%s ocr=%s store=%s", cfg.Provider, cfg.Model, cfg.TargetLanguage, cfg.OCRLanguage, cfg.StoreDriver)

	if err := clipboard.Init(); err != nil {
		log.Printf("Clipboard: %v; copy actions will fail", err)
	}

	a, err := app.New(ctx, cfg, app.Options{Page: opts.page})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()
	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	go a.Supervise(ctx)

	handler := web.New(a.Windows, a.Controller, a.Document).
		AcceptDeliveries(web.DeliverFunc(app.DeliverVia(a.Router))).
		Routes()
	go func() {
		if err := web.Serve(ctx, cfg.HTTPAddr, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Web: %v", err)
			a.Notices.Alertf("Results viewer unavailable: %v", err)
		}
	}()

	if opts.headless {
		fmt.Fprintf(os.Stderr, "Results viewer on http://%s/ (Ctrl+C to stop)\n", cfg.HTTPAddr)
		<-ctx.Done()
		return nil
	}
	return tui.Run(ctx, tui.Options{
		Controller: a.Controller,
		Notices:    a.Notices,
		ResultsURL: "http://" + cfg.HTTPAddr + "/",
		PageTitle:  a.Document.Title(),
	})
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range legacyFlags {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}

	return normalized
}
