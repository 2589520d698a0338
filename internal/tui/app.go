// Package tui is a terminal front end for case chats. It drives a
// client.Controller over the gateway websocket and renders with tview.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/auth"
	"github.com/matheus3301/casechat/internal/client"
	"github.com/matheus3301/casechat/internal/protocol"
	"github.com/matheus3301/casechat/internal/tui/keys"
	"github.com/matheus3301/casechat/internal/tui/model"
	"github.com/matheus3301/casechat/internal/tui/ui"
	"github.com/matheus3301/casechat/internal/tui/views"
)

const (
	pageCases = "cases"
	pageChat  = "chat"
	pageHelp  = "help"

	tickInterval = 500 * time.Millisecond
	reloadEvery  = 20 // ticks
	flashTTL     = 5 * time.Second
)

// Config carries what the app needs to reach the gateway.
type Config struct {
	Instance       string
	Identity       auth.Identity
	API            *client.API
	Transport      *client.Transport
	Logger         *zap.Logger
	TypingDebounce time.Duration
	TypingTTL      time.Duration
}

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	root      *tview.Flex
	pages     *tview.Pages
	theme     *ui.Theme
	registry  *keys.Registry
	statusBar *views.StatusBar
	caseList  *views.CaseList
	msgView   *views.MessageView
	composer  *views.Composer
	prompt    *views.Prompt
	help      *views.HelpView

	ctrl      *client.Controller
	api       *client.API
	transport *client.Transport
	cases     *model.Cases
	flash     model.Flash
	logger    *zap.Logger
	onChat    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(cfg Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		theme:     theme,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(theme),
		caseList:  views.NewCaseList(theme),
		msgView:   views.NewMessageView(theme, cfg.Identity.UserID),
		composer:  views.NewComposer(),
		prompt:    views.NewPrompt(theme),
		help:      views.NewHelpView(theme),
		api:       cfg.API,
		transport: cfg.Transport,
		cases:     model.NewCases(cfg.API),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	a.ctrl = client.New(cfg.Identity.UserID, cfg.Transport, cfg.API,
		client.WithTiming(cfg.TypingDebounce, cfg.TypingTTL),
		client.WithLogger(logger),
		client.OnUpdate(a.onUpdate),
	)

	a.statusBar.SetIdentity(cfg.Instance, cfg.Identity.UserID)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: '?',
		Description: "?:help", Visible: true,
		Handler: func() { a.switchTo(pageHelp, a.help) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: ':',
		Description: ":cmd", Visible: true,
		Handler: func() { a.showPrompt() },
	})
	a.registry.AddGlobal(&keys.Action{
		Key:     tcell.KeyCtrlR,
		Handler: func() { go a.reloadCases() },
	})
	a.registry.AddPage(pageChat, &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
	a.registry.AddPage(pageChat, &keys.Action{
		Key: tcell.KeyRune, Rune: 'r',
		Description: "r:read", Visible: true,
		Handler: func() { a.markRead(a.ctrl.Focused()) },
	})
}

func (a *App) setupCallbacks() {
	a.caseList.SetSelectedFunc(func(row, col int) {
		if id := a.caseList.SelectedCase(); id != 0 {
			a.openCase(id)
		}
	})

	a.composer.SetOnType(func() { a.ctrl.Typing() })
	a.composer.SetOnSend(func(text string) {
		switch err := a.ctrl.Send(text, ""); {
		case errors.Is(err, client.ErrPendingFull):
			a.flash.Error("offline queue full, message dropped", flashTTL)
		case err != nil:
			a.flash.Error("send failed: "+err.Error(), flashTTL)
		case !a.ctrl.Connected():
			a.flash.Info("offline, message queued", flashTTL)
		}
		a.refreshStatus()
	})
	a.composer.SetOnCancel(func() {
		a.ctrl.StopTyping()
		a.app.SetFocus(a.msgView)
	})

	a.prompt.SetOnSubmit(func(line string) {
		a.hidePrompt()
		a.runCommand(ParseCommand(line))
	})
	a.prompt.SetOnCancel(a.hidePrompt)
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageCases, a.caseList, true, true)
	a.pages.AddPage(pageChat, chatFlex, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.statusBar.SetHints(a.registry.Hints(pageCases))

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Text inputs get every key; their done funcs handle Esc.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		page, _ := a.pages.GetFrontPage()
		if event.Key() == tcell.KeyEscape && page != pageCases {
			a.showCases()
			return nil
		}
		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

// Run connects to the gateway and blocks until the UI exits.
func (a *App) Run() error {
	go a.transport.Run(a.ctx, &connHandler{Controller: a.ctrl, app: a})
	go func() {
		a.reloadCases()
		a.tick()
	}()

	err := a.app.Run()
	a.cancel()
	return err
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

func (a *App) tick() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ticker.C:
			if n%reloadEvery == 0 && !a.onChat.Load() {
				a.reloadCases()
				continue
			}
			a.app.QueueUpdateDraw(func() {
				if a.onChat.Load() {
					a.renderChat()
				}
				a.refreshStatus()
			})
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) reloadCases() {
	err := a.cases.Load(a.ctx)
	if err != nil && a.ctx.Err() == nil {
		a.logger.Warn("load cases", zap.Error(err))
		a.flash.Error("load cases: "+err.Error(), flashTTL)
	}
	a.app.QueueUpdateDraw(func() {
		a.caseList.Update(a.cases.List())
		a.refreshStatus()
	})
}

// onUpdate runs on transport and worker goroutines, never on the UI one.
func (a *App) onUpdate(u client.Update) {
	if u.Err != nil {
		a.flash.Error(u.Err.Code+": "+u.Err.Message, flashTTL)
	}
	focused := a.ctrl.Focused()
	if u.Type == protocol.TypeMessage && u.CaseID == focused && a.onChat.Load() {
		a.markRead(focused)
	}
	a.app.QueueUpdateDraw(func() {
		if u.CaseID != 0 && u.CaseID == a.ctrl.Focused() {
			a.renderChat()
		}
		a.refreshStatus()
	})
}

func (a *App) openCase(caseID int64) {
	a.msgView.SetCaseTitle(a.cases.Title(caseID))
	a.msgView.Update(a.ctrl.Messages(caseID), a.ctrl.Typers(caseID))
	a.onChat.Store(true)
	a.switchTo(pageChat, a.msgView)

	go func() {
		if err := a.ctrl.Focus(a.ctx, caseID); err != nil {
			a.flash.Error(fmt.Sprintf("open case %d: %v", caseID, err), flashTTL)
		}
		a.markRead(caseID)
		a.app.QueueUpdateDraw(func() {
			a.renderChat()
			a.refreshStatus()
		})
	}()
}

func (a *App) showCases() {
	if a.onChat.Swap(false) {
		a.ctrl.StopTyping()
		_ = a.ctrl.Blur()
	}
	a.switchTo(pageCases, a.caseList)
	go a.reloadCases()
}

func (a *App) switchTo(page string, focus tview.Primitive) {
	a.pages.SwitchToPage(page)
	a.app.SetFocus(focus)
	a.statusBar.SetHints(a.registry.Hints(page))
}

func (a *App) showPrompt() {
	a.root.ResizeItem(a.prompt, 1, 0)
	a.app.SetFocus(a.prompt.InputField)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	if a.onChat.Load() {
		a.app.SetFocus(a.msgView)
		return
	}
	page, _ := a.pages.GetFrontPage()
	if page == pageHelp {
		a.app.SetFocus(a.help)
		return
	}
	a.app.SetFocus(a.caseList)
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "q", "quit":
		a.Stop()
	case "h", "help":
		a.switchTo(pageHelp, a.help)
	case "reload":
		go a.reloadCases()
	case "open":
		id, err := cmd.CaseID()
		if err != nil {
			a.flash.Error(err.Error(), flashTTL)
			return
		}
		a.openCase(id)
	case "direct":
		user, title, err := cmd.Counterparty()
		if err != nil {
			a.flash.Error(err.Error(), flashTTL)
			return
		}
		go a.openDirect(user, title)
	default:
		a.flash.Error("unknown command: "+cmd.Name, flashTTL)
	}
	a.refreshStatus()
}

func (a *App) openDirect(counterparty, title string) {
	caseID, created, err := a.api.DirectChat(a.ctx, counterparty, title)
	if err != nil {
		a.flash.Error("direct chat: "+err.Error(), flashTTL)
		a.app.QueueUpdateDraw(a.refreshStatus)
		return
	}
	if created {
		a.flash.Info(fmt.Sprintf("created case %d", caseID), flashTTL)
	}
	if err := a.cases.Load(a.ctx); err != nil {
		a.logger.Warn("load cases", zap.Error(err))
	}
	a.app.QueueUpdateDraw(func() {
		a.caseList.Update(a.cases.List())
		a.openCase(caseID)
	})
}

func (a *App) markRead(caseID int64) {
	if caseID == 0 {
		return
	}
	a.ctrl.MarkRead()
	a.cases.ClearUnread(caseID)
}

func (a *App) renderChat() {
	caseID := a.ctrl.Focused()
	if caseID == 0 {
		return
	}
	a.msgView.Update(a.ctrl.Messages(caseID), a.ctrl.Typers(caseID))
}

func (a *App) refreshStatus() {
	a.statusBar.SetConnection(a.ctrl.Connected(), a.ctrl.Pending())
	a.statusBar.SetFlash(a.flash.Get())
}

// connHandler forwards transport callbacks to the controller and keeps the
// case list in step with the connection.
type connHandler struct {
	*client.Controller
	app *App
}

func (h *connHandler) Reconnected(ctx context.Context) error {
	err := h.Controller.Reconnected(ctx)
	h.app.flash.Info("connected", 2*time.Second)
	go h.app.reloadCases()
	return err
}

func (h *connHandler) Disconnected() {
	h.Controller.Disconnected()
	h.app.flash.Error("connection lost, retrying", flashTTL)
	h.app.app.QueueUpdateDraw(h.app.refreshStatus)
}
