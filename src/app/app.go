// Package app assembles the running system from configuration: store,
// capabilities, the page, the long-lived contexts and the window host.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"page-ocr-translate/src/clipboard"
	"page-ocr-translate/src/config"
	"page-ocr-translate/src/controller"
	"page-ocr-translate/src/coordinator"
	"page-ocr-translate/src/logutil"
	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/notify"
	"page-ocr-translate/src/ocr"
	"page-ocr-translate/src/page"
	"page-ocr-translate/src/process"
	"page-ocr-translate/src/router"
	"page-ocr-translate/src/selector"
	"page-ocr-translate/src/store"
	"page-ocr-translate/src/surface"
	"page-ocr-translate/src/translate"
	"page-ocr-translate/src/windows"
	"page-ocr-translate/src/worker"
)

const (
	selectorInbox    = 16
	coordinatorInbox = 32
	pageLoadTimeout  = 30 * time.Second
)

// Options override pieces of the default runtime. Zero values mean "build
// from config".
type Options struct {
	// Page is a URL or file path of the document to work on.
	Page       string
	Document   *page.Document
	HTTPClient *http.Client
	Store      store.Store
	Translator translate.Translator
	OCR        ocr.Engine
	Loader     selector.ImageLoader
	// Deliver replaces delivery to this process's coordinator, for example
	// to hand translations to another running instance.
	Deliver selector.DeliverFunc
	// Copy replaces the system clipboard.
	Copy func(text string) error
}

// App is the assembled runtime.
type App struct {
	Config      *config.Config
	Router      *router.Router
	Store       store.Store
	Document    *page.Document
	Notices     *notify.Center
	Selector    *selector.Selector
	Coordinator *coordinator.Coordinator
	Windows     *windows.Host
	Manager     *process.Manager
	Controller  *controller.Controller

	slot   *worker.Slot
	cancel context.CancelFunc
}

// New wires every component. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &App{Config: cfg, Router: router.NewRouter(), Notices: notify.NewCenter(), cancel: cancel}

	st := opts.Store
	if st == nil {
		var err error
		st, err = store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	a.Store = st
	if err := SeedCredential(ctx, st, cfg.APIKey); err != nil {
		log.Printf("App: could not seed credential: %v", err)
	}

	doc := opts.Document
	if doc == nil {
		if opts.Page == "" {
			a.abort()
			return nil, errors.New("app: no page to load")
		}
		loadCtx, done := context.WithTimeout(ctx, pageLoadTimeout)
		var err error
		doc, err = page.Load(loadCtx, opts.HTTPClient, opts.Page)
		done()
		if err != nil {
			a.abort()
			return nil, fmt.Errorf("load page: %w", err)
		}
	}
	a.Document = doc

	translator := opts.Translator
	if translator == nil {
		translator = NewTranslator(cfg, st)
	}
	engine := opts.OCR
	if engine == nil {
		engine = ocr.NewTesseract()
	}
	loader := opts.Loader
	if loader == nil {
		f := page.NewFetcher()
		if opts.HTTPClient != nil {
			f.Client = opts.HTTPClient
		}
		loader = f
	}
	a.slot = worker.NewSlot(engine, ocr.Options{
		Languages:      ocr.SplitLanguages(cfg.OCRLanguage),
		TessdataPrefix: cfg.TessdataPrefix,
	})

	deliver := opts.Deliver
	if deliver == nil {
		deliver = DeliverVia(a.Router)
	}
	a.Selector = selector.New(selector.Options{
		Page:       doc,
		Marker:     page.OutlineMarker{},
		Loader:     loader,
		OCR:        a.slot,
		Translator: translator,
		Deliver:    deliver,
		Notices:    a.Notices,
	})

	copyText := opts.Copy
	if copyText == nil {
		copyText = clipboard.Write
	}
	labels := SurfaceLabels(cfg.OCRLanguage, cfg.TargetLanguage)
	a.Windows = windows.New(ctx, a.Router, func(id messages.WindowID) *surface.Surface {
		return surface.New(surface.Options{
			Store:            st,
			Window:           id,
			AutosaveInterval: cfg.AutosaveInterval,
			Labels:           labels,
			Copy:             copyText,
			Ready:            windows.ReadySignal(a.Router),
		})
	})
	a.Coordinator = coordinator.New(coordinator.Options{
		Host:         a.Windows,
		Post:         windows.Post(a.Router),
		ReadyTimeout: cfg.SurfaceReadyTimeout,
	})

	a.Manager = process.NewManager(ctx, a.Router)
	for _, p := range []process.Process{
		process.NewActor(messages.ContextCoordinator, coordinatorInbox, a.Coordinator.Serve),
		process.NewActor(messages.ContextSelector, selectorInbox, a.Selector.Serve),
	} {
		if err := a.Manager.Register(p); err != nil {
			a.abort()
			return nil, err
		}
	}
	a.Controller = controller.New(a.Router, st)
	return a, nil
}

func (a *App) abort() {
	a.cancel()
	if a.Store != nil {
		_ = a.Store.Close()
	}
	a.Router.Shutdown()
}

// Start runs the coordinator and selector contexts.
func (a *App) Start() error {
	if err := a.Manager.StartAll(); err != nil {
		return err
	}
	log.Printf("App: started with %d images on %q", len(a.Document.Images()), a.Document.Title())
	return nil
}

// Supervise restarts crashed contexts until ctx ends.
func (a *App) Supervise(ctx context.Context) {
	a.Manager.Supervise(ctx, time.Second)
}

// Close stops the contexts, closes every window (saving it) and releases the
// store and the OCR worker.
func (a *App) Close() error {
	a.Manager.StopAll()
	a.Windows.Shutdown()
	if err := a.slot.Release(); err != nil {
		log.Printf("App: OCR release failed: %v", err)
	}
	a.cancel()
	a.Router.Shutdown()
	return a.Store.Close()
}

// DeliverVia sends finished translations from the selector to the coordinator.
// A missing coordinator is not an error for the sender.
func DeliverVia(r *router.Router) selector.DeliverFunc {
	return func(m messages.DeliverTranslation) error {
		err := r.Send(messages.ContextSelector, messages.ContextCoordinator, m)
		if errors.Is(err, router.ErrNoReceiver) {
			log.Printf("App: coordinator not running, translation dropped")
			return nil
		}
		return err
	}
}

// NewTranslator picks the provider named in cfg. The key is read from the
// store on every call.
func NewTranslator(cfg *config.Config, st store.Store) translate.Translator {
	cred := translate.StoredCredential(st)
	switch cfg.Provider {
	case config.ProviderGemini:
		return translate.NewGemini(cred, cfg.Model, cfg.TargetLanguage)
	default:
		return translate.NewOpenAI(cred, cfg.Model, cfg.BaseURL, cfg.TargetLanguage)
	}
}

// SeedCredential stores key when no credential is saved yet. A saved key
// always wins over the environment.
func SeedCredential(ctx context.Context, st store.Store, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	existing, found, err := st.Get(ctx, store.KeyCredential)
	if err != nil {
		return err
	}
	if found && strings.TrimSpace(string(existing)) != "" {
		return nil
	}
	log.Printf("App: seeding API key %s from configuration", logutil.RedactKey(key))
	return st.Set(ctx, store.KeyCredential, []byte(key))
}

// SurfaceLabels names the item sections after the OCR and target languages,
// for example "Original Korean Text:" and "English Translation:".
func SurfaceLabels(ocrLanguage string, target language.Tag) surface.Labels {
	labels := surface.DefaultLabels
	if langs := ocr.SplitLanguages(ocrLanguage); len(langs) == 1 {
		if tag, err := language.Parse(langs[0]); err == nil {
			if name := display.English.Tags().Name(tag); name != "" {
				labels.Source = "Original " + name + " Text:"
			}
		}
	}
	if name := display.English.Tags().Name(target); name != "" {
		labels.Target = name + " Translation:"
	}
	return labels
}
