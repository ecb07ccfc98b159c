// ABOUTME: The factory bot: a chat front end for creating and managing tenants.
// ABOUTME: Runs a typed per-operator create dialog and inline management callbacks.

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/2389/botfactory/internal/tenant"
	"github.com/2389/botfactory/internal/transport"
)

// Callback data values and prefixes.
const (
	cbCreate       = "create_bot"
	cbList         = "my_bots"
	cbManagePrefix = "manage_"
	cbStartPrefix  = "start_"
	cbStopPrefix   = "stop_"
	cbDeletePrefix = "delete_"
)

const (
	welcomeText = "Hi! I'm the Bot Factory. I create and host AI-powered Telegram bots.\n\n" +
		"Commands:\n" +
		"/create - create a new bot\n" +
		"/mybots - list your bots\n" +
		"/help - help"

	helpText = "How to create a bot:\n" +
		"1. /create to begin\n" +
		"2. Describe the bot's character and what it should do\n" +
		"3. Pick a name ending in \"bot\"\n" +
		"4. Create the bot with @BotFather and send me its token\n\n" +
		"Managing bots:\n" +
		"/mybots - list your bots, then start, stop or delete them\n" +
		"/cancel - abandon a bot you are creating"

	askDescriptionText = "Let's create your bot.\n\n" +
		"Describe what it should be like, for example:\n" +
		"- A friendly English tutor\n" +
		"- A gloomy detective consultant\n" +
		"- A cheerful meme generator\n\n" +
		"Or send /cancel to stop."

	askNameText = "Great. Now choose a name for the bot (for example: MyAwesomeBot).\n" +
		"The name must end in \"bot\"."

	badNameText = "The name must end in \"bot\". Try again:"

	askTokenText = "Last step: send the bot token from @BotFather\n" +
		"(format: 1234567890:ABCdefGHIjklMNOpqrsTUVwxyz).\n\n" +
		"If you haven't created the bot yet, use /newbot in @BotFather."

	badTokenText   = "That doesn't look like a bot token. Try again or /cancel."
	tokenInUseText = "That token is already registered. Send a different one or /cancel."
	creatingText   = "Creating and starting your bot. This can take a few seconds..."
	cancelledText  = "Bot creation cancelled. Use /create to start again."
	nothingToDo    = "Use /create to make a new bot or /mybots to manage yours."
	noBotsText     = "You don't have any bots yet. Create one with /create."
	notFoundText   = "Bot not found."
	genericError   = "Something went wrong. Please try again later."
)

type createStep int

const (
	stepDescription createStep = iota
	stepName
	stepCredential
)

// createSession is the typed state of one operator's create dialog.
type createSession struct {
	step        createStep
	description string
	name        string
}

// Bot is the provisioning front end running on the primary credential.
type Bot struct {
	svc    *Service
	logger *slog.Logger
	client transport.BotClient

	mu       sync.Mutex
	sessions map[int64]*createSession
}

// NewBot creates the factory bot. Call Run to connect it.
func NewBot(svc *Service, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		svc:      svc,
		logger:   logger.With("component", "factory_bot"),
		sessions: make(map[int64]*createSession),
	}
}

// Run connects with token and handles updates until ctx is cancelled. It
// returns an error if the token is rejected.
func (b *Bot) Run(ctx context.Context, token string, opts transport.Options) error {
	opts.Concurrent = true
	opts.Logger = b.logger
	tg, err := transport.Connect(token, opts, func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		b.HandleUpdate(ctx, update)
	})
	if err != nil {
		return err
	}
	b.client = tg

	b.logger.Info("factory bot polling")
	tg.Start(ctx)
	b.logger.Info("factory bot stopped")
	return nil
}

// HandleUpdate dispatches one update. Panics are contained here so a bad
// update cannot take the bot down.
func (b *Bot) HandleUpdate(ctx context.Context, update *models.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("factory bot handler panic", "panic", r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *models.Message) {
	owner := msg.From.ID
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	switch transport.Command(text) {
	case "start":
		b.send(ctx, chatID, welcomeText, mainMenu())
	case "help":
		b.send(ctx, chatID, helpText, nil)
	case "create":
		b.beginCreate(ctx, owner, chatID)
	case "cancel":
		b.endSession(owner)
		b.send(ctx, chatID, cancelledText, nil)
	case "mybots":
		b.listBots(ctx, owner, chatID)
	case "":
		if text != "" {
			b.continueCreate(ctx, owner, chatID, text)
		}
	default:
		b.send(ctx, chatID, nothingToDo, nil)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *models.CallbackQuery) {
	if _, err := b.client.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
	}); err != nil {
		b.logger.Warn("failed to answer callback", "error", err)
	}

	owner := cq.From.ID
	chatID := owner
	if cq.Message.Message != nil {
		chatID = cq.Message.Message.Chat.ID
	}

	data := cq.Data
	switch {
	case data == cbCreate:
		b.beginCreate(ctx, owner, chatID)
	case data == cbList:
		b.listBots(ctx, owner, chatID)
	case strings.HasPrefix(data, cbManagePrefix):
		b.withTenantID(ctx, chatID, data, cbManagePrefix, func(id int64) { b.manageBot(ctx, owner, chatID, id) })
	case strings.HasPrefix(data, cbStartPrefix):
		b.withTenantID(ctx, chatID, data, cbStartPrefix, func(id int64) { b.startBot(ctx, owner, chatID, id) })
	case strings.HasPrefix(data, cbStopPrefix):
		b.withTenantID(ctx, chatID, data, cbStopPrefix, func(id int64) { b.stopBot(ctx, owner, chatID, id) })
	case strings.HasPrefix(data, cbDeletePrefix):
		b.withTenantID(ctx, chatID, data, cbDeletePrefix, func(id int64) { b.deleteBot(ctx, owner, chatID, id) })
	default:
		b.logger.Debug("unknown callback", "data", data)
	}
}

func (b *Bot) withTenantID(ctx context.Context, chatID int64, data, prefix string, fn func(int64)) {
	id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
	if err != nil {
		b.send(ctx, chatID, notFoundText, nil)
		return
	}
	fn(id)
}

func (b *Bot) beginCreate(ctx context.Context, owner, chatID int64) {
	b.mu.Lock()
	b.sessions[owner] = &createSession{step: stepDescription}
	b.mu.Unlock()
	b.send(ctx, chatID, askDescriptionText, nil)
}

func (b *Bot) endSession(owner int64) {
	b.mu.Lock()
	delete(b.sessions, owner)
	b.mu.Unlock()
}

// continueCreate advances the operator's dialog by one answer. The finished
// request is taken out of the session map before the slow create runs.
func (b *Bot) continueCreate(ctx context.Context, owner, chatID int64, text string) {
	b.mu.Lock()
	sess, ok := b.sessions[owner]
	if !ok {
		b.mu.Unlock()
		b.send(ctx, chatID, nothingToDo, nil)
		return
	}

	var reply string
	var req *CreateRequest
	switch sess.step {
	case stepDescription:
		sess.description = text
		sess.step = stepName
		reply = askNameText
	case stepName:
		if err := ValidateName(text); err != nil {
			reply = badNameText
			break
		}
		sess.name = strings.TrimPrefix(text, "@")
		sess.step = stepCredential
		reply = askTokenText
	case stepCredential:
		if err := tenant.ValidateCredential(text); err != nil {
			reply = badTokenText
			break
		}
		req = &CreateRequest{OwnerID: owner, Name: sess.name, Description: sess.description, Credential: text}
		delete(b.sessions, owner)
	}
	b.mu.Unlock()

	if req == nil {
		b.send(ctx, chatID, reply, nil)
		return
	}
	b.finishCreate(ctx, chatID, *req)
}

func (b *Bot) finishCreate(ctx context.Context, chatID int64, req CreateRequest) {
	b.send(ctx, chatID, creatingText, nil)

	t, err := b.svc.Create(ctx, req)
	switch {
	case err == nil:
		b.send(ctx, chatID, fmt.Sprintf("Bot @%s is created and running!\n\nDescription: %s\n\nYou can start chatting with it right away.",
			t.Name, t.Description), nil)
	case errors.Is(err, ErrCredentialInUse):
		// Let the operator retry the last step without re-entering everything.
		b.mu.Lock()
		b.sessions[req.OwnerID] = &createSession{step: stepCredential, description: req.Description, name: req.Name}
		b.mu.Unlock()
		b.send(ctx, chatID, tokenInUseText, nil)
	case errors.Is(err, ErrStartFailed):
		b.send(ctx, chatID, "The bot could not be started. Check the token and try /create again.", nil)
	case errors.Is(err, ErrProfileFailed):
		b.logger.Warn("profile generation failed", "owner_id", req.OwnerID, "error", err)
		b.send(ctx, chatID, "I couldn't generate the bot's personality right now. Try /create again later.", nil)
	default:
		b.logger.Error("failed to create tenant", "owner_id", req.OwnerID, "error", err)
		b.send(ctx, chatID, "Something went wrong creating the bot. Try /create again.", nil)
	}
}

func statusLabel(s Status) string {
	switch {
	case s.Running:
		return "running"
	case s.Active:
		return "active, not running"
	default:
		return "stopped"
	}
}

func (b *Bot) listBots(ctx context.Context, owner, chatID int64) {
	bots, err := b.svc.List(ctx, owner)
	if err != nil {
		b.logger.Error("failed to list tenants", "owner_id", owner, "error", err)
		b.send(ctx, chatID, genericError, nil)
		return
	}
	if len(bots) == 0 {
		b.send(ctx, chatID, noBotsText, nil)
		return
	}

	var sb strings.Builder
	sb.WriteString("Your bots:\n\n")
	rows := make([][]models.InlineKeyboardButton, 0, len(bots))
	for _, s := range bots {
		fmt.Fprintf(&sb, "@%s - %s\n   %s\n\n", s.Name, statusLabel(s), s.Description)
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         "Manage " + s.Name,
			CallbackData: cbManagePrefix + strconv.FormatInt(s.ID, 10),
		}})
	}
	b.send(ctx, chatID, sb.String(), &models.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (b *Bot) manageBot(ctx context.Context, owner, chatID, id int64) {
	t, err := b.svc.Get(ctx, owner, id)
	if err != nil {
		b.reportError(ctx, chatID, err)
		return
	}
	s := Status{Tenant: t, Running: b.svc.supervisor.IsRunning(id)}

	idStr := strconv.FormatInt(id, 10)
	toggle := models.InlineKeyboardButton{Text: "Start", CallbackData: cbStartPrefix + idStr}
	if s.Running {
		toggle = models.InlineKeyboardButton{Text: "Stop", CallbackData: cbStopPrefix + idStr}
	}
	markup := &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{toggle},
		{{Text: "Delete", CallbackData: cbDeletePrefix + idStr}},
		{{Text: "Back", CallbackData: cbList}},
	}}

	text := fmt.Sprintf("Managing @%s\n\nStatus: %s\nDescription: %s\nCreated: %s",
		t.Name, statusLabel(s), t.Description, t.CreatedAt.Format("2006-01-02 15:04"))
	b.send(ctx, chatID, text, markup)
}

func (b *Bot) startBot(ctx context.Context, owner, chatID, id int64) {
	t, err := b.svc.Start(ctx, owner, id)
	if err != nil {
		b.reportError(ctx, chatID, err)
		return
	}
	b.send(ctx, chatID, fmt.Sprintf("Bot @%s started.", t.Name), nil)
}

func (b *Bot) stopBot(ctx context.Context, owner, chatID, id int64) {
	t, err := b.svc.Stop(ctx, owner, id)
	if err != nil {
		b.reportError(ctx, chatID, err)
		return
	}
	b.send(ctx, chatID, fmt.Sprintf("Bot @%s stopped.", t.Name), nil)
}

func (b *Bot) deleteBot(ctx context.Context, owner, chatID, id int64) {
	t, err := b.svc.Delete(ctx, owner, id)
	if err != nil {
		b.reportError(ctx, chatID, err)
		return
	}
	b.send(ctx, chatID, fmt.Sprintf("Bot @%s deleted.", t.Name), nil)
}

func (b *Bot) reportError(ctx context.Context, chatID int64, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		b.send(ctx, chatID, notFoundText, nil)
	case errors.Is(err, ErrStartFailed):
		b.send(ctx, chatID, "The bot could not be started.", nil)
	default:
		b.logger.Error("tenant operation failed", "chat_id", chatID, "error", err)
		b.send(ctx, chatID, genericError, nil)
	}
}

func mainMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{{Text: "Create a bot", CallbackData: cbCreate}},
		{{Text: "My bots", CallbackData: cbList}},
	}}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, markup *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{ChatID: chatID, Text: text}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := b.client.SendMessage(ctx, params); err != nil {
		b.logger.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}
