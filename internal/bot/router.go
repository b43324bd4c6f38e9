package bot

import (
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/handlers"
	"github.com/Proton-105/earnyha-bot/internal/bot/keyboard"
)

// Router sends each update to a command, callback or conversation step
// handler, all behind the same middleware chain. Routes and middlewares
// are registered during setup and only read once updates flow.
type Router struct {
	commands    map[string]handlers.Handler
	callbacks   map[string]handlers.CallbackHandler
	dispatcher  *Dispatcher
	fallback    handlers.Handler
	middlewares []handlers.Middleware
	log         *slog.Logger
}

// NewRouter returns a Router that asks dispatcher about free text.
func NewRouter(dispatcher *Dispatcher, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		commands:   map[string]handlers.Handler{},
		callbacks:  map[string]handlers.CallbackHandler{},
		dispatcher: dispatcher,
		log:        log,
	}
}

// RegisterCommand routes "/cmd", matched case-insensitively, to h.
func (r *Router) RegisterCommand(cmd string, h handlers.Handler) {
	r.commands[strings.ToLower(cmd)] = h
}

// RegisterCallback routes callbacks whose action is action to h. The
// argument after the action is available through handlers.CallbackData.
func (r *Router) RegisterCallback(action string, h handlers.CallbackHandler) {
	r.callbacks[action] = h
}

// Use appends mw; the first registered middleware runs outermost.
func (r *Router) Use(mw handlers.Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// SetDefault handles unknown commands and text outside a conversation.
func (r *Router) SetDefault(h handlers.Handler) {
	r.fallback = h
}

// Route handles one update.
func (r *Router) Route(c telebot.Context) error {
	if c == nil {
		return nil
	}
	if cb := c.Callback(); cb != nil {
		return r.routeCallback(c, cb.Data)
	}

	text := strings.TrimSpace(c.Text())
	if !strings.HasPrefix(text, "/") {
		return r.run(c, r.step)
	}
	if h, ok := r.commands[commandName(text)]; ok {
		return r.run(c, h)
	}
	return r.run(c, r.fallback)
}

func (r *Router) routeCallback(c telebot.Context, raw string) error {
	cb, err := keyboard.ParseCallback(raw)
	if err != nil {
		r.log.Debug("dropping malformed callback", slog.Any("error", err))
		return c.Respond()
	}

	h, ok := r.callbacks[cb.Action]
	if !ok {
		r.log.Info("no callback handler found", slog.String("action", cb.Action))
		return c.Respond()
	}

	c.Set(handlers.CallbackDataKey, cb.Arg)
	return r.run(c, handlers.Handler(h))
}

// step answers free text. It runs inside the chain so the state lookup
// shares the update's context and error handling.
func (r *Router) step(c telebot.Context) error {
	h, err := r.dispatcher.Resolve(c)
	if err != nil {
		return err
	}
	if h == nil {
		h = r.fallback
	}
	if h == nil {
		return nil
	}
	return h(c)
}

func (r *Router) run(c telebot.Context, h handlers.Handler) error {
	if h == nil {
		return nil
	}
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](h)
	}
	if h == nil {
		return nil
	}
	return h(c)
}

// commandName extracts "/cmd" from "/Cmd@bot_name args".
func commandName(text string) string {
	name, _, _ := strings.Cut(strings.Fields(text)[0], "@")
	return strings.ToLower(name)
}
