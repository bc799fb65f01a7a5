// Package tui is the terminal front end of the CRM inbox.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/app"
	"github.com/Xfuse1/whatsapp-crm/internal/status"
	"github.com/Xfuse1/whatsapp-crm/internal/tui/keys"
	"github.com/Xfuse1/whatsapp-crm/internal/tui/model"
	"github.com/Xfuse1/whatsapp-crm/internal/tui/ui"
	"github.com/Xfuse1/whatsapp-crm/internal/tui/views"
)

const (
	pageChats = "chats"
	pageChat  = "chat"
	pagePair  = "pair"

	requestTimeout = 30 * time.Second
)

type promptMode int

const (
	promptNone promptMode = iota
	promptCommand
	promptFilter
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	root      *tview.Flex
	pages     *tview.Pages
	prompt    *tview.InputField
	mode      promptMode
	vm        *model.ViewModel
	client    *app.Client
	registry  *keys.Registry
	theme     *ui.Theme
	statusBar *views.StatusBar
	chatList  *views.ChatList
	thread    *views.MessageThread
	pairView  *views.PairView
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application over a wired client.
func NewApp(c *app.Client) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	vm := model.NewViewModel(model.Deps{
		Inbox:    c.Inbox,
		Chats:    c.Chats,
		Contacts: c.Gateway,
		Link:     c.Tracker,
		Bus:      c.Bus,
		Controls: model.Controls{
			StartPairing: c.Monitor.StartPairing,
			StopPairing:  c.Monitor.StopPairing,
			Reconnect:    func() { c.Reconnect(ctx) },
			Logout:       c.Logout,
		},
	})

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		prompt:    tview.NewInputField(),
		vm:        vm,
		client:    c,
		registry:  keys.NewRegistry(),
		theme:     theme,
		statusBar: views.NewStatusBar(theme),
		chatList:  views.NewChatList(theme),
		thread:    views.NewMessageThread(theme),
		pairView:  views.NewPairView(theme),
		logger:    c.Logger.Named("tui"),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(c.Profile)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: ":cmd", Visible: true,
		Handler: func() { a.openPrompt(promptCommand) },
	})
	a.registry.AddGlobal("pair", &keys.Action{
		Rune: 'c', Key: tcell.KeyRune,
		Description: "c:link", Visible: true,
		Handler: a.showPairing,
	})
	a.registry.AddView(pageChats, "filter", &keys.Action{
		Rune: '/', Key: tcell.KeyRune,
		Description: "/:filter", Visible: true,
		Handler: func() { a.openPrompt(promptFilter) },
	})
	a.registry.AddView(pageChat, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(pageChat, "retry", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:retry", Visible: true,
		Handler: func() { go a.vm.RetryLast(a.ctx) },
	})
	a.registry.AddView(pageChat, "back", &keys.Action{
		Key:         tcell.KeyEscape,
		Description: "esc:back", Visible: true,
		Handler: a.showChats,
	})
	a.registry.AddView(pagePair, "back", &keys.Action{
		Key:         tcell.KeyEscape,
		Description: "esc:back", Visible: true,
		Handler: func() {
			a.vm.StopPairing()
			a.showChats()
		},
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		if id := a.chatList.SelectedChat(); id != "" {
			a.openChat(id)
		}
	})

	a.thread.SetOnSend(func(text string) {
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
			defer cancel()
			_ = a.vm.SendText(ctx, text)
		}()
	})

	a.prompt.SetFieldWidth(0)
	a.prompt.SetFieldBackgroundColor(a.theme.BgColor)
	a.prompt.SetLabelColor(a.theme.MenuKeyColor)
	a.prompt.SetChangedFunc(func(text string) {
		if a.mode == promptFilter {
			a.vm.SetFilter(text)
		}
	})
	a.prompt.SetDoneFunc(func(key tcell.Key) {
		mode, text := a.mode, a.prompt.GetText()
		a.closePrompt()
		switch {
		case key == tcell.KeyEscape && mode == promptFilter:
			a.vm.SetFilter("")
		case key == tcell.KeyEnter && mode == promptCommand:
			if err := a.run(ParseCommand(text)); err != nil {
				a.vm.Flash.SetLevel(model.FlashWarn, err.Error(), 5*time.Second)
				a.render()
			}
		}
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageChats, a.chatList, true, true)
	a.pages.AddPage(pageChat, a.thread, true, false)
	a.pages.AddPage(pagePair, a.pairView, true, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Let text input widgets handle all keys normally.
		if input, ok := a.app.GetFocus().(*tview.InputField); ok {
			if input == a.thread.Composer() && event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			return event
		}
		if a.registry.HandleEvent(a.page(), event) {
			return nil
		}
		return event
	})
}

func (a *App) page() string {
	name, _ := a.pages.GetFrontPage()
	return name
}

func (a *App) openPrompt(mode promptMode) {
	a.mode = mode
	switch mode {
	case promptFilter:
		a.prompt.SetLabel(" / ")
		a.prompt.SetText(a.vm.Filter())
	default:
		a.prompt.SetLabel(" : ")
		a.prompt.SetText("")
	}
	a.root.ResizeItem(a.prompt, 1, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) closePrompt() {
	a.mode = promptNone
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusPage()
}

func (a *App) focusPage() {
	switch a.page() {
	case pageChat:
		a.app.SetFocus(a.thread.Messages())
	case pagePair:
		a.app.SetFocus(a.pairView)
	default:
		a.app.SetFocus(a.chatList)
	}
}

func (a *App) switchTo(page string) {
	if page != pageChat {
		a.vm.LeaveChat()
	}
	a.pages.SwitchToPage(page)
	a.client.Focus.Set(page == pageChat)
	a.focusPage()
	a.render()
}

func (a *App) showChats() {
	a.switchTo(pageChats)
}

// openChat shows the conversation at once; its history fills in when the
// load completes.
func (a *App) openChat(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		_ = a.vm.OpenChat(ctx, id)
	}()
	a.switchTo(pageChat)
}

func (a *App) showPairing() {
	snap, _ := a.vm.Link()
	if snap.Upstream == status.UpstreamLinked {
		a.vm.Flash.Set("WhatsApp is already linked", 5*time.Second)
		a.render()
		return
	}
	a.pairView.ShowMessage("Requesting a QR code...")
	a.vm.StartPairing()
	a.switchTo(pagePair)
}

// render redraws every view from the view model. It runs on the UI
// goroutine.
func (a *App) render() {
	page := a.page()
	a.chatList.Update(a.vm.GetChats(), a.vm.Filter(), a.vm.TotalUnread())

	if c, ok := a.vm.ActiveChat(); ok {
		a.thread.SetChatName(c.DisplayTitle(), a.vm.Loading())
		a.thread.Update(a.vm.GetMessages())
	}

	snap, banner := a.vm.Link()
	if page == pagePair {
		switch {
		case snap.Upstream == status.UpstreamLinked:
			a.vm.Flash.Set("WhatsApp linked", 5*time.Second)
			a.pages.SwitchToPage(pageChats)
			a.focusPage()
			page = pageChats
		case snap.QR != "":
			a.pairView.ShowQR(snap.QR)
		}
	}

	a.statusBar.SetLink(snap, banner)
	msg, level := a.vm.Flash.Get()
	a.statusBar.SetFlash(msg, level)
	a.statusBar.SetHints(a.registry.Hints(page))
}

func (a *App) refreshLoop() {
	// Expired flash messages clear on the next tick.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.vm.RefreshCh():
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
		a.app.QueueUpdateDraw(a.render)
	}
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		if err := a.vm.LoadChats(ctx); err != nil {
			a.logger.Warn("initial chat load failed", zap.Error(err))
		}
		a.app.QueueUpdateDraw(a.render)
	}()
	go a.refreshLoop()

	a.render()
	err := a.app.Run()
	a.cancel()
	a.vm.Close()
	return err
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
