package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"

	"melonbooks-monitor/internal/database"
	"melonbooks-monitor/internal/logger"
	"melonbooks-monitor/internal/monitor"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Catalog is the part of the repository the chat commands manage.
type Catalog interface {
	GetArtists(ctx context.Context, site string) ([]string, error)
	AddArtists(ctx context.Context, site string, names []string) error
	RemoveArtist(ctx context.Context, site, name string) error
}

// Passes is the daemon's pass control. *monitor.Daemon implements it.
type Passes interface {
	// Trigger starts a pass in the background.
	Trigger() error
	// Exclusive runs fn unless a pass is running.
	Exclusive(fn func() error) error
}

// Handler answers chat commands.
type Handler struct {
	catalog Catalog
	sites   []string
	passes  Passes
	chatID  int64
	log     logger.Logger
}

// NewHandler creates a handler. With chatID 0 every chat may use the commands.
// A nil passes disables /run.
func NewHandler(catalog Catalog, sites []string, passes Passes, chatID int64, log logger.Logger) *Handler {
	return &Handler{
		catalog: catalog,
		sites:   sites,
		passes:  passes,
		chatID:  chatID,
		log:     log,
	}
}

const helpText = `🍈 <b>Melonbooks Monitor</b>

<b>/artists &lt;site&gt;</b> - list watched artists
<b>/add &lt;site&gt; &lt;artist&gt;</b> - watch an artist
<b>/remove &lt;site&gt; &lt;artist&gt;</b> - stop watching an artist and forget its products
<b>/run</b> - start a pass now
<b>/help</b> - show this message`

// Listen answers incoming messages until ctx is done.
func (h *Handler) Listen(ctx context.Context, bot *tgbotapi.BotAPI) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)
	defer bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			reply := h.Handle(ctx, update.Message.Chat.ID, update.Message.Text)
			if reply == "" {
				continue
			}
			h.send(bot, update.Message.Chat.ID, reply)
		}
	}
}

func (h *Handler) send(bot *tgbotapi.BotAPI, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := bot.Send(msg); err != nil {
		h.log.Warn("Sending HTML reply failed, retrying as plain text", logger.Error(err))
		msg.ParseMode = ""
		if _, err := bot.Send(msg); err != nil {
			h.log.Error("Sending reply failed", logger.Error(err))
		}
	}
}

// Handle returns the HTML reply to text sent from chatID, or "" when the message is not a command.
func (h *Handler) Handle(ctx context.Context, chatID int64, text string) string {
	parts := strings.Fields(text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return ""
	}

	command := strings.ToLower(parts[0])
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}
	args := parts[1:]

	public := command == "/start" || command == "/help"
	if !public && h.chatID != 0 && chatID != h.chatID {
		h.log.Warn("Rejected command from unauthorized chat", logger.String("command", command), logger.Any("chat_id", chatID))
		return "⛔ You are not allowed to use this bot."
	}

	switch command {
	case "/start", "/help":
		return helpText
	case "/artists":
		return h.listArtists(ctx, args)
	case "/add":
		return h.addArtist(ctx, args)
	case "/remove":
		return h.removeArtist(ctx, args)
	case "/run":
		return h.run()
	default:
		return "Unknown command. Use /help to see the available commands."
	}
}

// exclusive runs a catalog edit outside of any pass.
func (h *Handler) exclusive(fn func() error) error {
	if h.passes == nil {
		return fn()
	}
	return h.passes.Exclusive(fn)
}

const busyReply = "⏳ A pass is running, try again when it finishes."

func (h *Handler) unknownSite(name string) string {
	return fmt.Sprintf("❌ Unknown site <b>%s</b>. Known sites: %s", html.EscapeString(name), strings.Join(h.sites, ", "))
}

func (h *Handler) listArtists(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "❌ Usage: /artists &lt;site&gt;"
	}
	site := args[0]
	if !slices.Contains(h.sites, site) {
		return h.unknownSite(site)
	}

	artists, err := h.catalog.GetArtists(ctx, site)
	if err != nil {
		h.log.Error("Listing artists failed", logger.String("site", site), logger.Error(err))
		return "❌ Could not list artists."
	}
	if len(artists) == 0 {
		return fmt.Sprintf("📋 No artists watched on %s.", site)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 <b>Artists on %s</b> (%d)\n", site, len(artists))
	for _, a := range artists {
		fmt.Fprintf(&b, "\n• %s", html.EscapeString(a))
	}
	return b.String()
}

func (h *Handler) addArtist(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "❌ Usage: /add &lt;site&gt; &lt;artist&gt;"
	}
	site := args[0]
	if !slices.Contains(h.sites, site) {
		return h.unknownSite(site)
	}
	artist := strings.Join(args[1:], " ")

	err := h.exclusive(func() error {
		return h.catalog.AddArtists(ctx, site, []string{artist})
	})
	switch {
	case errors.Is(err, monitor.ErrPassRunning):
		return busyReply
	case err != nil:
		h.log.Error("Adding artist failed", logger.String("site", site), logger.String("artist", artist), logger.Error(err))
		return "❌ Could not add the artist."
	}
	h.log.Info("Artist added from chat", logger.String("site", site), logger.String("artist", artist))
	return fmt.Sprintf("✅ Watching <b>%s</b> on %s.", html.EscapeString(artist), site)
}

func (h *Handler) removeArtist(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "❌ Usage: /remove &lt;site&gt; &lt;artist&gt;"
	}
	site := args[0]
	if !slices.Contains(h.sites, site) {
		return h.unknownSite(site)
	}
	artist := strings.Join(args[1:], " ")

	err := h.exclusive(func() error {
		return h.catalog.RemoveArtist(ctx, site, artist)
	})
	switch {
	case errors.Is(err, monitor.ErrPassRunning):
		return busyReply
	case errors.Is(err, database.ErrArtistNotFound):
		return fmt.Sprintf("❌ <b>%s</b> is not watched on %s.", html.EscapeString(artist), site)
	case err != nil:
		h.log.Error("Removing artist failed", logger.String("site", site), logger.String("artist", artist), logger.Error(err))
		return "❌ Could not remove the artist."
	}
	h.log.Info("Artist removed from chat", logger.String("site", site), logger.String("artist", artist))
	return fmt.Sprintf("🗑 Stopped watching <b>%s</b> on %s.", html.EscapeString(artist), site)
}

func (h *Handler) run() string {
	if h.passes == nil {
		return "❌ Passes can only be started while the daemon is running."
	}
	err := h.passes.Trigger()
	switch {
	case errors.Is(err, monitor.ErrPassRunning):
		return "⏳ A pass is already running."
	case err != nil:
		return "❌ Could not start a pass."
	}
	return "▶️ Pass started."
}
