package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/browser"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"paper-twinview/internal/config"
	"paper-twinview/internal/llm"
	"paper-twinview/internal/logger"
	"paper-twinview/internal/pipeline"
	"paper-twinview/internal/raster"
	"paper-twinview/internal/segment"
	"paper-twinview/internal/types"
	"paper-twinview/internal/userstore"
	"paper-twinview/internal/viewsync"
)

// Event names for frontend communication
const (
	EventStatusUpdate   = "translate-status-update"
	EventPageMerged     = "page-merged"
	EventSegmentUpdated = "segment-updated"
	EventPopoutState    = "popout-state-changed"
	EventDocumentOpened = "document-opened"
)

// maxChatContextChars bounds how much document text rides along with a
// chat turn.
const maxChatContextChars = 6000

// App is the main Wails application controller. It wires the
// rasterizer, model client, translation pipeline, segment collection
// and view-sync machinery, and exposes the operations the frontend
// binds to.
type App struct {
	ctx    context.Context
	config *config.Manager

	rasterizer *raster.Rasterizer
	llmClient  *llm.Client
	coll       *segment.Collection
	ctrl       *pipeline.Controller
	seq        *pipeline.Sequencer

	hub    *viewsync.Hub
	popout *viewsync.Popout
	echo   *viewsync.EchoGuard

	users userstore.Store

	// Loopback server backing the detached viewer
	popoutSrv *http.Server
	popoutURL string

	docInfo *raster.DocumentInfo

	chatMu      sync.Mutex
	chatHistory []types.ChatMessage

	userMu      sync.RWMutex
	currentUser *userstore.User

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc

	// isWailsRuntime indicates if the app is running in a Wails
	// environment. Used to safely skip EventsEmit calls in tests and
	// CLI mode.
	isWailsRuntime bool
}

// NewApp creates a new App. Module wiring happens in startup.
func NewApp() *App {
	return &App{}
}

// NewAppWithConfig creates a new App with a custom config path, useful
// for tests.
func NewAppWithConfig(configPath string) (*App, error) {
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return nil, err
	}
	return &App{config: mgr}, nil
}

// safeEmit emits an event to the frontend only when running under
// Wails.
func (a *App) safeEmit(eventName string, data ...interface{}) {
	if !a.isWailsRuntime {
		logger.Debug("event emit skipped (not in Wails runtime)",
			logger.String("event", eventName))
		return
	}
	runtime.EventsEmit(a.ctx, eventName, data...)
}

// SetWailsRuntime sets the Wails runtime flag. Called from main.go when
// the app starts in GUI mode.
func (a *App) SetWailsRuntime(isWails bool) {
	a.isWailsRuntime = isWails
}

// startup initializes all modules. The context is saved so runtime
// methods can be called later.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	logger.Info("application starting up")

	if a.config == nil {
		mgr, err := config.NewManager("")
		if err != nil {
			logger.Error("failed to create config manager", err)
			return
		}
		a.config = mgr
	}
	if err := a.config.Load(); err != nil {
		logger.Warn("failed to load config, using defaults", logger.Err(err))
	}

	a.rasterizer = raster.NewRasterizer(a.config.GetRenderDPI(), a.config.GetWorkDirectory())
	a.coll = segment.NewCollection()

	if err := a.initModelClient(); err != nil {
		// Tolerated: the user can supply an API key in settings later.
		logger.Warn("model client not ready at startup", logger.Err(err))
	}

	a.hub = viewsync.NewHub()
	a.popout = viewsync.NewPopout()
	a.echo = viewsync.NewEchoGuard(viewsync.EchoCooldown)

	a.ctrl = pipeline.NewController(a.rasterizer, modelBoundary{app: a}, a.coll, a.config.GetPageCap())
	a.ctrl.SetStatusCallback(func(status types.TranslateStatus) {
		a.safeEmit(EventStatusUpdate, status)
		a.hub.BroadcastJSON("state", status)
	})
	a.ctrl.SetPageMergedCallback(func(pageIndex int) {
		a.safeEmit(EventPageMerged, pageIndex)
		a.broadcastPage(pageIndex)
	})
	a.seq = pipeline.NewSequencer(a.ctrl, a.coll)
	a.popout.SetStateCallback(func(state viewsync.PopoutState) {
		a.safeEmit(EventPopoutState, string(state))
	})
	a.hub.SetLifecycleCallbacks(
		func() {
			if err := a.popout.Attached(); err != nil {
				logger.Debug("unexpected viewer attach", logger.Err(err))
			}
		},
		func() {
			if err := a.popout.RemoteClosed(); err != nil {
				logger.Debug("viewer detach in non-open state", logger.Err(err))
			}
		},
	)

	store, err := userstore.NewFileStore(a.config.GetUserStorePath())
	if err != nil {
		logger.Error("failed to open user store", err)
	} else {
		a.users = store
	}

	if err := a.startPopoutServer(); err != nil {
		logger.Error("failed to start popout server", err)
	}

	logger.Info("application startup complete")
}

// shutdown releases resources when the app closes.
func (a *App) shutdown(ctx context.Context) {
	logger.Info("application shutting down")

	a.CancelProcess()
	if a.hub != nil {
		a.hub.CloseAll()
	}
	if a.popoutSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.popoutSrv.Shutdown(shutdownCtx)
	}
	if a.rasterizer != nil {
		a.rasterizer.Cleanup()
	}
}

// initModelClient (re)builds the model client from current settings.
func (a *App) initModelClient() error {
	apiKey := a.config.GetAPIKey()
	if apiKey == "" {
		return types.NewAppError(types.ErrConfig, "API key is not configured", nil)
	}

	client, err := llm.NewClient(context.Background(), llm.Config{
		APIKey:  apiKey,
		BaseURL: a.config.GetBaseURL(),
		Model:   a.config.GetModel(),
	})
	if err != nil {
		return err
	}
	a.llmClient = client
	logger.Info("model client initialized", logger.String("model", a.config.GetModel()))
	return nil
}

// modelBoundary adapts the App's possibly-nil llm client to the
// pipeline's ModelClient interface, so a missing API key surfaces as a
// clean error at batch time instead of a nil dereference.
type modelBoundary struct {
	app *App
}

func (m modelBoundary) RequestMetadata(ctx context.Context, pageOne raster.PageImage) (*types.PaperMetadata, error) {
	if m.app.llmClient == nil {
		return nil, types.NewAppError(types.ErrConfig, "API key is not configured", nil)
	}
	return m.app.llmClient.RequestMetadata(ctx, pageOne)
}

func (m modelBoundary) RequestPageContent(ctx context.Context, page raster.PageImage, pageIndex int, tone types.Tone) (string, error) {
	if m.app.llmClient == nil {
		return "", types.NewAppError(types.ErrConfig, "API key is not configured", nil)
	}
	return m.app.llmClient.RequestPageContent(ctx, page, pageIndex, tone)
}

// --- Document lifecycle ---

// LoadPDF probes and opens a document. Any previous document's pending
// batch results become no-ops.
func (a *App) LoadPDF(filePath string) (*raster.DocumentInfo, error) {
	info, err := a.rasterizer.Probe(filePath)
	if err != nil {
		logger.Error("failed to load PDF", err, logger.String("path", filePath))
		return nil, err
	}

	a.CancelProcess()
	a.ctrl.OpenDocument(filePath)
	a.docInfo = info

	a.chatMu.Lock()
	a.chatHistory = nil
	a.chatMu.Unlock()

	a.safeEmit(EventDocumentOpened, info)
	a.hub.BroadcastJSON("document", info)
	return info, nil
}

// GetDocumentInfo returns the loaded document's info, or nil.
func (a *App) GetDocumentInfo() *raster.DocumentInfo {
	return a.docInfo
}

// batchContext creates a cancellable context for one batch and registers
// its cancel func so CancelProcess can abort it.
func (a *App) batchContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelMu.Lock()
	a.cancelFunc = cancel
	a.cancelMu.Unlock()
	return ctx
}

// CancelProcess aborts the in-flight batch, if any.
func (a *App) CancelProcess() {
	a.cancelMu.Lock()
	cancel := a.cancelFunc
	a.cancelFunc = nil
	a.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// --- Translation operations ---

// TranslateFirstBatch translates the initial pages 1-2.
func (a *App) TranslateFirstBatch() error {
	return a.seq.FirstBatch(a.batchContext(), a.config.GetTone())
}

// TranslateFullDocument translates from page 1 up to the page cap.
func (a *App) TranslateFullDocument() error {
	return a.seq.FullDocument(a.batchContext(), a.config.GetTone())
}

// LoadNextBatch appends the next batch after the last processed page.
func (a *App) LoadNextBatch() error {
	return a.seq.NextBatch(a.batchContext(), a.config.GetTone())
}

// TranslatePageRange translates an explicit inclusive range, replacing
// the recorded range descriptor.
func (a *App) TranslatePageRange(start, end int) error {
	return a.ctrl.TranslateRange(a.batchContext(), start, end, a.config.GetTone(), false)
}

// HandlePageClick services a page-picker click and reports whether the
// page was scrolled to or translated on demand.
func (a *App) HandlePageClick(pageIndex int) (string, error) {
	action, err := a.seq.HandlePageClick(a.batchContext(), pageIndex, a.config.GetTone())
	return string(action), err
}

// ReanalyzePage re-runs a single page, replacing its segments.
func (a *App) ReanalyzePage(pageIndex int) error {
	return a.seq.Reanalyze(a.batchContext(), pageIndex, a.config.GetTone())
}

// --- Read accessors ---

// GetStatus returns the pipeline status snapshot.
func (a *App) GetStatus() types.TranslateStatus {
	return a.ctrl.Status()
}

// IsProcessing reports whether a batch is in flight.
func (a *App) IsProcessing() bool {
	return a.ctrl.IsProcessing()
}

// GetSegments returns every segment in page order.
func (a *App) GetSegments() []types.Segment {
	return a.coll.All()
}

// GetPageGroups returns segments grouped by ascending page.
func (a *App) GetPageGroups() []segment.PageGroup {
	return a.coll.GroupByPage()
}

// GetMetadata returns the extracted paper metadata, or nil.
func (a *App) GetMetadata() *types.PaperMetadata {
	return a.ctrl.Metadata()
}

// GetProcessedPages returns the distinct processed page indices.
func (a *App) GetProcessedPages() []int {
	return a.coll.DistinctProcessedPages()
}

// GetActiveRange returns the processed-range descriptor, e.g. "1-2, 5".
func (a *App) GetActiveRange() string {
	return a.ctrl.ActiveRange()
}

// GetPageImage returns one rendered page as a JPEG data URL for the
// original-document pane.
func (a *App) GetPageImage(pageIndex int) (string, error) {
	if a.docInfo == nil {
		return "", pipeline.ErrNoDocument
	}
	img, err := a.rasterizer.RenderPage(a.docInfo.FilePath, pageIndex)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img.JPEG), nil
}

// --- Segment operations ---

// ToggleBookmark flips a segment's bookmark flag.
func (a *App) ToggleBookmark(segmentID string) error {
	ok := a.coll.SetSegment(segmentID, func(s *types.Segment) {
		s.IsBookmarked = !s.IsBookmarked
	})
	if !ok {
		return types.NewAppError(types.ErrInvalidInput, "segment no longer exists", nil)
	}
	a.emitSegment(segmentID)
	return nil
}

// SetUserNote attaches a free-form note to a segment.
func (a *App) SetUserNote(segmentID, note string) error {
	ok := a.coll.SetSegment(segmentID, func(s *types.Segment) {
		s.UserNote = note
	})
	if !ok {
		return types.NewAppError(types.ErrInvalidInput, "segment no longer exists", nil)
	}
	a.emitSegment(segmentID)
	return nil
}

// ExplainSegment requests a deep two-language explanation for one
// segment. The segment's IsExplaining flag is set for the duration so
// the frontend can show a spinner on the exact block.
func (a *App) ExplainSegment(segmentID, userPrompt string) (*types.Explanation, error) {
	if a.llmClient == nil {
		return nil, types.NewAppError(types.ErrConfig, "API key is not configured", nil)
	}
	seg, ok := a.coll.Get(segmentID)
	if !ok {
		return nil, types.NewAppError(types.ErrInvalidInput, "segment no longer exists", nil)
	}

	a.coll.SetSegment(segmentID, func(s *types.Segment) { s.IsExplaining = true })
	a.emitSegment(segmentID)
	defer func() {
		a.coll.SetSegment(segmentID, func(s *types.Segment) { s.IsExplaining = false })
		a.emitSegment(segmentID)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	exp, err := a.llmClient.ExplainBlock(ctx, seg.Original, seg.Translated, userPrompt)
	if err != nil {
		logger.Error("explain request failed", err, logger.String("segment", segmentID))
		return nil, err
	}

	a.coll.SetSegment(segmentID, func(s *types.Segment) {
		s.Explanation = exp.Korean
		s.ExplanationEn = exp.English
	})
	return exp, nil
}

func (a *App) emitSegment(segmentID string) {
	if seg, ok := a.coll.Get(segmentID); ok {
		a.safeEmit(EventSegmentUpdated, seg)
	}
}

// --- Chat ---

// Chat answers one user question in the context of the loaded document
// and appends both turns to the history.
func (a *App) Chat(message string) (string, error) {
	if a.llmClient == nil {
		return "", types.NewAppError(types.ErrConfig, "API key is not configured", nil)
	}
	if strings.TrimSpace(message) == "" {
		return "", types.NewAppError(types.ErrInvalidInput, "message is empty", nil)
	}

	a.chatMu.Lock()
	history := make([]types.ChatMessage, len(a.chatHistory))
	copy(history, a.chatHistory)
	a.chatMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	reply, err := a.llmClient.ChatTurn(ctx, history, message, a.documentContext())
	if err != nil {
		return "", err
	}

	a.chatMu.Lock()
	a.chatHistory = append(a.chatHistory,
		types.ChatMessage{Role: "user", Content: message},
		types.ChatMessage{Role: "assistant", Content: reply})
	a.chatMu.Unlock()
	return reply, nil
}

// GetChatHistory returns the chat history for the loaded document.
func (a *App) GetChatHistory() []types.ChatMessage {
	a.chatMu.Lock()
	defer a.chatMu.Unlock()
	out := make([]types.ChatMessage, len(a.chatHistory))
	copy(out, a.chatHistory)
	return out
}

// ClearChat drops the chat history.
func (a *App) ClearChat() {
	a.chatMu.Lock()
	a.chatHistory = nil
	a.chatMu.Unlock()
}

// documentContext assembles metadata plus processed original text, so
// chat answers are grounded in the paper rather than the model's
// priors.
func (a *App) documentContext() string {
	var b strings.Builder

	if meta := a.ctrl.Metadata(); meta != nil {
		b.WriteString("Title: " + meta.Title + "\n")
		if len(meta.Authors) > 0 {
			b.WriteString("Authors: " + strings.Join(meta.Authors, ", ") + "\n")
		}
		b.WriteString("\n")
	}

	for _, seg := range a.coll.All() {
		if b.Len()+len(seg.Original) > maxChatContextChars {
			break
		}
		b.WriteString(seg.Original)
		b.WriteString("\n")
	}
	return b.String()
}

// --- View sync and detached viewer ---

// SyncScroll handles a host-pane scroll: the normalized fraction is
// forwarded to detached viewers and returned so the opposite pane can
// follow. Degenerate geometry reports ok=false and moves nothing.
func (a *App) SyncScroll(scrollTop, scrollHeight, clientHeight float64) (float64, bool) {
	fraction, ok := viewsync.ScrollFraction(scrollTop, scrollHeight, clientHeight)
	if !ok {
		return 0, false
	}
	if !a.echo.Allow() {
		// Programmatic echo of a sync we just applied.
		return fraction, false
	}
	a.hub.BroadcastScroll(fraction)
	return fraction, true
}

// startPopoutServer starts the loopback HTTP server the detached
// browser viewer connects to.
func (a *App) startPopoutServer() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for popout server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/popout", a.servePopoutPage)
	mux.HandleFunc("/ws", a.hub.ServeWS)
	mux.HandleFunc("/pages/", a.servePageImage)

	a.popoutSrv = &http.Server{Handler: mux}
	a.popoutURL = fmt.Sprintf("http://%s/popout", ln.Addr().String())

	go func() {
		if err := a.popoutSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("popout server stopped", err)
		}
	}()

	logger.Info("popout server listening", logger.String("url", a.popoutURL))
	return nil
}

// servePopoutPage serves the self-contained detached viewer page. The
// page is read-only: it subscribes to the websocket feed and follows
// host scroll and page merges.
func (a *App) servePopoutPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, popoutPageHTML)
}

// servePageImage serves /pages/{n} as JPEG for the detached viewer.
func (a *App) servePageImage(w http.ResponseWriter, r *http.Request) {
	if a.docInfo == nil {
		http.NotFound(w, r)
		return
	}
	pageStr := strings.TrimPrefix(r.URL.Path, "/pages/")
	pageNum, err := strconv.Atoi(pageStr)
	if err != nil || pageNum < 1 {
		http.NotFound(w, r)
		return
	}
	img, err := a.rasterizer.RenderPage(a.docInfo.FilePath, pageNum)
	if err != nil {
		http.Error(w, "page unavailable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(img.JPEG)
}

// OpenPopout opens the translated view in a detached browser window and
// returns its URL.
func (a *App) OpenPopout() (string, error) {
	if a.popoutURL == "" {
		return "", types.NewAppError(types.ErrInternal, "popout server is not running", nil)
	}
	if err := a.popout.RequestOpen(); err != nil {
		return "", err
	}
	if err := browser.OpenURL(a.popoutURL); err != nil {
		a.popout.CloseLocal()
		return "", types.NewAppError(types.ErrInternal, "failed to open browser window", err)
	}
	return a.popoutURL, nil
}

// ClosePopout closes the detached viewer from the host side.
func (a *App) ClosePopout() {
	a.popout.CloseLocal()
	a.hub.CloseAll()
}

// GetPopoutState returns the detached viewer state.
func (a *App) GetPopoutState() string {
	return string(a.popout.State())
}

// broadcastPage pushes one merged page's segments to detached viewers.
func (a *App) broadcastPage(pageIndex int) {
	var segs []types.Segment
	for _, g := range a.coll.GroupByPage() {
		if g.PageIndex == pageIndex {
			segs = g.Segments
			break
		}
	}
	a.hub.BroadcastJSON("pages", map[string]interface{}{
		"page_index": pageIndex,
		"segments":   segs,
	})
}

// --- Accounts ---

// Login authenticates and sets the active user.
func (a *App) Login(username, password string) (*userstore.User, error) {
	if a.users == nil {
		return nil, types.NewAppError(types.ErrStorage, "user store is unavailable", nil)
	}
	u, err := a.users.Authenticate(username, password)
	if err != nil {
		return nil, err
	}
	a.userMu.Lock()
	a.currentUser = &u
	a.userMu.Unlock()
	logger.Info("user logged in", logger.String("username", username))
	return &u, nil
}

// Logout clears the active user.
func (a *App) Logout() {
	a.userMu.Lock()
	a.currentUser = nil
	a.userMu.Unlock()
}

// CurrentUser returns the active user, or nil.
func (a *App) CurrentUser() *userstore.User {
	a.userMu.RLock()
	defer a.userMu.RUnlock()
	return a.currentUser
}

// RegisterUser creates a pending account awaiting admin approval.
func (a *App) RegisterUser(username, password string) (*userstore.User, error) {
	if a.users == nil {
		return nil, types.NewAppError(types.ErrStorage, "user store is unavailable", nil)
	}
	u, err := a.users.Register(username, password)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// requireAdmin rejects account administration from non-admin sessions.
func (a *App) requireAdmin() error {
	a.userMu.RLock()
	defer a.userMu.RUnlock()
	if a.currentUser == nil || !a.currentUser.IsAdmin {
		return types.NewAppError(types.ErrAuth, "administrator access required", nil)
	}
	return nil
}

// ApproveUser activates a pending account.
func (a *App) ApproveUser(username string) error {
	if err := a.requireAdmin(); err != nil {
		return err
	}
	return a.users.Approve(username)
}

// SetUserPaid flips an account's paid flag.
func (a *App) SetUserPaid(username string, paid bool) error {
	if err := a.requireAdmin(); err != nil {
		return err
	}
	return a.users.SetPaid(username, paid)
}

// ListUsers returns all accounts for the admin panel.
func (a *App) ListUsers() ([]userstore.User, error) {
	if err := a.requireAdmin(); err != nil {
		return nil, err
	}
	return a.users.List(), nil
}

// --- Settings ---

// GetSettings returns the current settings with the API key masked.
func (a *App) GetSettings() *types.Config {
	cfg := *a.config.Get()
	if len(cfg.OpenAIAPIKey) > 8 {
		cfg.OpenAIAPIKey = cfg.OpenAIAPIKey[:4] + "****" + cfg.OpenAIAPIKey[len(cfg.OpenAIAPIKey)-4:]
	}
	return &cfg
}

// SaveSettings persists settings and rebuilds the model client. An
// empty apiKey keeps the stored key.
func (a *App) SaveSettings(apiKey, baseURL, model, tone string, pageCap int) error {
	if apiKey == "" || strings.Contains(apiKey, "****") {
		apiKey = a.config.GetAPIKey()
	}
	if err := a.config.Update(apiKey, baseURL, model, types.Tone(tone), pageCap); err != nil {
		return err
	}
	a.ctrl.SetPageCap(a.config.GetPageCap())
	if err := a.initModelClient(); err != nil {
		logger.Warn("model client not rebuilt after settings change", logger.Err(err))
	}
	logger.Info("settings saved",
		logger.String("model", a.config.GetModel()),
		logger.String("tone", string(a.config.GetTone())),
		logger.Int("pageCap", a.config.GetPageCap()))
	return nil
}

// TestAPIConnection verifies the given credentials with a minimal chat
// round trip.
func (a *App) TestAPIConnection(apiKey, baseURL, model string) error {
	if apiKey == "" || strings.Contains(apiKey, "****") {
		apiKey = a.config.GetAPIKey()
	}
	if apiKey == "" {
		return types.NewAppError(types.ErrConfig, "API key is required", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := llm.NewClient(ctx, llm.Config{APIKey: apiKey, BaseURL: baseURL, Model: model, MaxRetries: 1})
	if err != nil {
		return err
	}
	if _, err := client.ChatTurn(ctx, nil, "ping", ""); err != nil {
		return types.NewAppError(types.ErrAPICall, "API connection test failed", err)
	}
	return nil
}

// --- Dialogs ---

// OpenFileDialog shows the native PDF picker and returns the selected
// path, or "".
func (a *App) OpenFileDialog() string {
	if !a.isWailsRuntime {
		return ""
	}
	path, err := runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "논문 PDF 선택",
		Filters: []runtime.FileFilter{
			{DisplayName: "PDF 문서 (*.pdf)", Pattern: "*.pdf"},
		},
	})
	if err != nil {
		logger.Warn("file dialog failed", logger.Err(err))
		return ""
	}
	return path
}
