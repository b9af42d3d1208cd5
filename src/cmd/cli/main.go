package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"page-ocr-translate/src/app"
	"page-ocr-translate/src/config"
	"page-ocr-translate/src/logutil"
	"page-ocr-translate/src/page"
	"page-ocr-translate/src/selector"
	"page-ocr-translate/src/store"
	"page-ocr-translate/src/surface"
	"page-ocr-translate/src/web"
)

const (
	deliveryTimeout = 10 * time.Second
	residentProbe   = 500 * time.Millisecond
)

type cliOptions struct {
	page       string
	selection  string
	list       bool
	jsonOutput bool
	verbose    bool
	apiKeyPath string
	storeDSN   string
}

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
		args = []string{"ocr-translate"}
	}

	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ocr-translate",
		Short:         "OCR and translate selected images of a page once",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.list && opts.selection == "" {
				return errors.New(`--select is required (for example "0,2", "1-3" or "all")`)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWithOptions(ctx, *opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.page, "page", "", "URL or file path of the page")
	cmd.Flags().StringVar(&opts.selection, "select", "", `Images to select by index: "0,2", "1-3" or "all"`)
	cmd.Flags().BoolVar(&opts.list, "list", false, "List the images on the page and exit")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.Flags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	cmd.Flags().StringVar(&opts.storeDSN, "store-dsn", "", "Override STORE_DSN")
	_ = cmd.MarkFlagRequired("page")

	return cmd
}

func runWithOptions(ctx context.Context, opts cliOptions, stdout io.Writer) error {
	// Configure logging BEFORE any other operations.
	if !opts.verbose {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(os.Stderr)
		fmt.Fprintf(os.Stderr, "[verbose] Starting ocr-translate\n")
	}

	cfg, err := config.LoadWithOptions(config.LoadOptions{
		APIKeyPathOverride: opts.apiKeyPath,
		StoreDSNOverride:   opts.storeDSN,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.verbose {
		fmt.Fprintf(os.Stderr, "[verbose] Config loaded: provider=%s model=%s target=%s\n", cfg.Provider, cfg.Model, cfg.TargetLanguage)
		fmt.Fprintf(os.Stderr, "[verbose] Store: %s %s\n", cfg.StoreDriver, cfg.StoreDSN)
		if cfg.APIKey != "" {
			fmt.Fprintf(os.Stderr, "[verbose] API key from configuration: %s\n", logutil.RedactKey(cfg.APIKey))
		}
	}

	// A running instance owns the saved translations; hand results to it
	// rather than opening a second window on the same store.
	appOpts := app.Options{Page: opts.page}
	var resident *web.Client
	if !opts.list {
		resident = findResident(ctx, cfg.HTTPAddr)
		if resident != nil {
			appOpts.Deliver = selector.DeliverFunc(resident.DeliverFunc(ctx))
			if opts.verbose {
				fmt.Fprintf(os.Stderr, "[verbose] Handing results to the running instance at %s\n", resident.BaseURL)
			}
		}
	}

	a, err := app.New(ctx, cfg, appOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("CLI: close: %v", err)
		}
	}()

	images := a.Document.Images()
	if opts.list {
		return listImages(stdout, images, opts.jsonOutput)
	}

	indices, err := parseSelection(opts.selection, len(images))
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	var saved []surface.Record
	if resident == nil {
		if _, err := store.GetJSON(ctx, a.Store, store.KeyRecords, &saved); err != nil {
			return fmt.Errorf("failed to read saved translations: %w", err)
		}
	}

	a.Selector.ToggleSelectionMode()
	for _, i := range indices {
		a.Document.Click(images[i])
	}
	if opts.verbose {
		fmt.Fprintf(os.Stderr, "[verbose] Selected %d of %d images\n", a.Selector.SelectionCount(), len(images))
	}

	start := time.Now()
	res, err := a.Selector.RunOCRAndTranslate(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return errors.New(selector.Describe(err))
	}
	if opts.verbose {
		fmt.Fprintf(os.Stderr, "[verbose] Batch finished in %v, %d texts\n", elapsed, len(res.Texts))
	}
	if len(res.Texts) == 0 {
		return errors.New("no text found in the selected images")
	}

	window := ""
	switch {
	case resident != nil && res.Delivered:
		window = resident.BaseURL
	case resident != nil:
		fmt.Fprintf(os.Stderr, "Warning: the running instance at %s did not accept the translation\n", resident.BaseURL)
	case res.Delivered:
		window, err = waitForDelivery(ctx, a, len(saved)+1)
		if err != nil {
			return err
		}
		if opts.verbose {
			fmt.Fprintf(os.Stderr, "[verbose] Delivered to %s\n", window)
		}
	}

	return outputResult(stdout, res, window, elapsed, opts.page, opts.jsonOutput)
}

// findResident returns a client for the viewer of a running instance, or nil
// when nothing answers on addr.
func findResident(ctx context.Context, addr string) *web.Client {
	if addr == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, residentProbe)
	defer cancel()
	c := web.NewClient(addr)
	if err := c.Ping(ctx); err != nil {
		log.Printf("CLI: no running instance at %s: %v", addr, err)
		return nil
	}
	return c
}

// waitForDelivery blocks until a results window holds want records, which
// means the new translation has been rendered and saved.
func waitForDelivery(ctx context.Context, a *app.App, want int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, info := range a.Windows.List() {
			if info.Records >= want {
				return string(info.ID), nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("translation was not saved to a results window: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// parseSelection turns "0,2", "1-3" or "all" into image indices in the
// order given.
func parseSelection(spec string, n int) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if strings.EqualFold(spec, "all") {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}

	var out []int
	seen := make(map[int]bool)
	add := func(i int) error {
		if i < 0 || i >= n {
			return fmt.Errorf("image %d out of range (page has %d images)", i, n)
		}
		if seen[i] {
			return fmt.Errorf("image %d selected twice", i)
		}
		seen[i] = true
		out = append(out, i)
		return nil
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			from, err1 := strconv.Atoi(strings.TrimSpace(lo))
			to, err2 := strconv.Atoi(strings.TrimSpace(hi))
			if err1 != nil || err2 != nil || from > to {
				return nil, fmt.Errorf("invalid range %q", part)
			}
			for i := from; i <= to; i++ {
				if err := add(i); err != nil {
					return nil, err
				}
			}
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid image index %q", part)
		}
		if err := add(i); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no images selected")
	}
	return out, nil
}

type imageInfo struct {
	Index int    `json:"index"`
	Src   string `json:"src"`
	Alt   string `json:"alt,omitempty"`
}

func listImages(w io.Writer, images []*page.Element, jsonOutput bool) error {
	out := make([]imageInfo, 0, len(images))
	for _, el := range images {
		out = append(out, imageInfo{Index: el.Index(), Src: el.Src(), Alt: el.Alt()})
	}
	if jsonOutput {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}
	for _, img := range out {
		fmt.Fprintf(w, "%d\t%s\t%s\n", img.Index, img.Src, img.Alt)
	}
	return nil
}

type BatchOutput struct {
	SourceText     string  `json:"source_text"`
	TranslatedText string  `json:"translated_text"`
	Images         int     `json:"images"`
	Page           string  `json:"page"`
	// Window is the results window id, or the viewer URL when the result
	// was handed to a running instance.
	Window         string  `json:"window,omitempty"`
	Timestamp      string  `json:"timestamp"`
	Duration       float64 `json:"duration_seconds"`
}

func outputResult(w io.Writer, res selector.BatchResult, window string, elapsed time.Duration, pageLocation string, jsonOutput bool) error {
	if jsonOutput {
		result := BatchOutput{
			SourceText:     res.SourceText,
			TranslatedText: res.TranslatedText,
			Images:         res.Images,
			Page:           pageLocation,
			Window:         window,
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
			Duration:       elapsed.Seconds(),
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return fmt.Errorf("failed to encode JSON output: %w", err)
		}
	} else {
		fmt.Fprint(w, res.TranslatedText)
	}

	return nil
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		switch {
		case arg == "-page", strings.HasPrefix(arg, "-page="),
			arg == "-select", strings.HasPrefix(arg, "-select="),
			arg == "-list", strings.HasPrefix(arg, "-list="),
			arg == "-json", strings.HasPrefix(arg, "-json="),
			arg == "-verbose", strings.HasPrefix(arg, "-verbose="),
			arg == "-api-key-path", strings.HasPrefix(arg, "-api-key-path="),
			arg == "-store-dsn", strings.HasPrefix(arg, "-store-dsn="):
			normalized[i] = "-" + arg
		}
	}

	return normalized
}
