// ABOUTME: Telegram long-polling transport for tenant workers.
// ABOUTME: Converts bot updates into tenant inbound units and sends text replies.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/2389/botfactory/internal/tenant"
)

// MaxMessageLen is Telegram's limit on a single text message, in characters.
const MaxMessageLen = 4096

// ErrNotConnected is returned by Send before Run has connected the bot.
var ErrNotConnected = errors.New("telegram bot not connected")

// Options configures connections to the Bot API.
type Options struct {
	// ServerURL overrides the Bot API endpoint. Empty uses api.telegram.org.
	ServerURL string
	// InitTimeout bounds the credential check performed on connect.
	InitTimeout time.Duration
	// Concurrent lets handlers run in parallel. By default updates are
	// handled one at a time in arrival order.
	Concurrent bool
	Logger     *slog.Logger
}

// BotClient is the subset of *bot.Bot used for sending.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// Connect verifies token against the Bot API and returns a bot that delivers
// updates to handler once Start is called.
func Connect(token string, opts Options, handler bot.HandlerFunc) (*bot.Bot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	botOpts := []bot.Option{
		bot.WithDefaultHandler(handler),
		bot.WithErrorsHandler(func(err error) {
			logger.Warn("telegram polling error", "error", err)
		}),
	}
	if !opts.Concurrent {
		botOpts = append(botOpts, bot.WithNotAsyncHandlers())
	}
	if opts.ServerURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(opts.ServerURL))
	}
	if opts.InitTimeout > 0 {
		botOpts = append(botOpts, bot.WithCheckInitTimeout(opts.InitTimeout))
	}

	b, err := bot.New(token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	return b, nil
}

// Telegram is a tenant.Transport backed by one bot credential.
type Telegram struct {
	token  string
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	client BotClient
}

// NewTelegram creates a transport for token. Nothing is contacted until Run.
func NewTelegram(token string, opts Options) *Telegram {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		token:  token,
		opts:   opts,
		logger: logger.With("component", "telegram", "bot", tenant.RedactCredential(token)),
	}
}

// Factory returns a tenant.TransportFactory producing Telegram transports.
func Factory(opts Options) tenant.TransportFactory {
	return func(credential string) (tenant.Transport, error) {
		return NewTelegram(credential, opts), nil
	}
}

// Run connects the bot, signals ready and polls until ctx is cancelled.
// Ready is signalled once getMe has accepted the credential, just before
// polling starts. A rejected credential is reported as an error before ready
// is called.
func (t *Telegram) Run(ctx context.Context, handle func(tenant.Inbound), ready func()) error {
	opts := t.opts
	opts.Logger = t.logger
	b, err := Connect(t.token, opts, func(_ context.Context, _ *bot.Bot, update *models.Update) {
		if in, ok := ToInbound(update); ok {
			handle(in)
		}
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.client = b
	t.mu.Unlock()

	t.logger.Info("polling for updates")
	ready()
	b.Start(ctx)
	t.logger.Info("polling stopped")
	return nil
}

// Send delivers text to chatID, split into several messages if it exceeds
// MaxMessageLen.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return ErrNotConnected
	}
	return SendText(ctx, client, chatID, text)
}

// SendText sends text through client, chunked to MaxMessageLen.
func SendText(ctx context.Context, client BotClient, chatID int64, text string) error {
	for _, chunk := range SplitText(text, MaxMessageLen) {
		if _, err := client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   chunk,
		}); err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
	}
	return nil
}

// ToInbound converts an update into a tenant unit. Updates without message
// text or sender are skipped, as are commands other than /start and /reset.
func ToInbound(update *models.Update) (tenant.Inbound, bool) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return tenant.Inbound{}, false
	}
	msg := update.Message
	if strings.TrimSpace(msg.Text) == "" {
		return tenant.Inbound{}, false
	}

	in := tenant.Inbound{
		UpdateID: update.ID,
		UserID:   msg.From.ID,
		ChatID:   msg.Chat.ID,
		Kind:     tenant.KindText,
		Text:     msg.Text,
	}
	switch Command(msg.Text) {
	case "start":
		in.Kind = tenant.KindStart
	case "reset":
		in.Kind = tenant.KindReset
	case "": // plain text
	default:
		return tenant.Inbound{}, false
	}
	return in, true
}

// Command returns the bot command in text without the slash or @botname
// suffix, or "" if text is not a command.
func Command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	name, _, _ := strings.Cut(fields[0][1:], "@")
	return strings.ToLower(name)
}

// SplitText breaks text into pieces of at most limit characters, preferring
// to cut at a newline.
func SplitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
