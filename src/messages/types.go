package messages

// Message is the base interface for all cross-context messages
type Message interface {
	Kind() Kind
}

// Kind identifies a message variant on the wire and in logs
type Kind string

// Message kinds. The string values match the action names used by the page,
// popup, background and results contexts.
const (
	KindToggleSelection       Kind = "toggleSelection"
	KindGetSelectedImages     Kind = "getSelectedImages"
	KindSelectionCount        Kind = "selectionCount"
	KindGetSelectionModeState Kind = "getSelectionModeState"
	KindSelectionModeState    Kind = "selectionModeState"
	KindClearSelection        Kind = "clearSelection"
	KindTranslateSelected     Kind = "translateSelected"
	KindOpenResults           Kind = "openTranslationWindow"
	KindDeliverTranslation    Kind = "deliverTranslation"
	KindAddTranslation        Kind = "addTranslation"
	KindSurfaceReady          Kind = "surfaceReady"
	KindWindowClosed          Kind = "windowClosed"
	KindDieNow                Kind = "DIENOW"
)

// WindowID identifies one results window. The empty value means "no window".
type WindowID string

// ToggleSelection - sent by the controller to flip the selector's selection mode
type ToggleSelection struct{}

func (ToggleSelection) Kind() Kind { return KindToggleSelection }

// GetSelectedImages - controller query for the current selection size
type GetSelectedImages struct{}

func (GetSelectedImages) Kind() Kind { return KindGetSelectedImages }

// SelectionCount - reply to GetSelectedImages
type SelectionCount struct {
	Count int
}

func (SelectionCount) Kind() Kind { return KindSelectionCount }

// GetSelectionModeState - controller query for the selection mode flag
type GetSelectionModeState struct{}

func (GetSelectionModeState) Kind() Kind { return KindGetSelectionModeState }

// SelectionModeState - reply to GetSelectionModeState
type SelectionModeState struct {
	Active bool
}

func (SelectionModeState) Kind() Kind { return KindSelectionModeState }

// ClearSelection - sent by the controller to empty the selection
type ClearSelection struct{}

func (ClearSelection) Kind() Kind { return KindClearSelection }

// TranslateSelected - sent by the controller to start an OCR+translate batch
type TranslateSelected struct{}

func (TranslateSelected) Kind() Kind { return KindTranslateSelected }

// OpenResults - sent by the controller to open or focus the results window
type OpenResults struct{}

func (OpenResults) Kind() Kind { return KindOpenResults }

// DeliverTranslation - sent by the selector when a batch produced a translation
type DeliverTranslation struct {
	SourceText     string
	TranslatedText string
}

func (DeliverTranslation) Kind() Kind { return KindDeliverTranslation }

// AddTranslation - forwarded by the coordinator to the results window
type AddTranslation struct {
	SourceText     string
	TranslatedText string
}

func (AddTranslation) Kind() Kind { return KindAddTranslation }

// SurfaceReady - sent by a results window once it can receive records
type SurfaceReady struct {
	Window WindowID
}

func (SurfaceReady) Kind() Kind { return KindSurfaceReady }

// WindowClosed - sent by the window host when a results window is torn down
type WindowClosed struct {
	Window WindowID
}

func (WindowClosed) Kind() Kind { return KindWindowClosed }

// DIENOW - shutdown message broadcast to all contexts
type DIENOW struct{}

func (DIENOW) Kind() Kind { return KindDieNow }

// replies maps every query kind to the kind of its reply. Kinds not listed
// here are fire-and-forget.
var replies = map[Kind]Kind{
	KindGetSelectedImages:     KindSelectionCount,
	KindGetSelectionModeState: KindSelectionModeState,
}

// ExpectsReply reports whether m is a query and, if so, the reply kind.
func ExpectsReply(m Message) (Kind, bool) {
	k, ok := replies[m.Kind()]
	return k, ok
}

// Envelope wraps messages with routing metadata. Reply is set by the router
// for queries and must receive exactly one message.
type Envelope struct {
	From    string
	To      string
	Message Message
	Reply   chan<- Message
}

// Respond answers a query envelope. It is a no-op for fire-and-forget messages.
func (e Envelope) Respond(m Message) {
	if e.Reply == nil {
		return
	}
	select {
	case e.Reply <- m:
	default:
	}
}

// Context names for routing
const (
	ContextSelector    = "selector"
	ContextController  = "controller"
	ContextCoordinator = "coordinator"
	ContextWindowHost  = "windows"
	ContextManager     = "manager"
)
