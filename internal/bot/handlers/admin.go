package handlers

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/keyboard"
	"github.com/Proton-105/earnyha-bot/internal/domain"
	"github.com/Proton-105/earnyha-bot/internal/i18n"
	"github.com/Proton-105/earnyha-bot/internal/jobs"
	jobhandlers "github.com/Proton-105/earnyha-bot/internal/jobs/handlers"
	"github.com/Proton-105/earnyha-bot/internal/ledger"
)

const (
	usersPerPage = 20
	// Telegram rejects messages above 4096 characters.
	maxMessageLength = 4000
)

// Admin dispatches the /admin subcommands. Non-admins are refused.
func (h *Chat) Admin(c telebot.Context) error {
	if c.Sender() == nil || !h.isAdmin(c.Sender().ID) {
		return c.Send(h.Text(c, "admin.denied", nil))
	}

	args := c.Args()
	if len(args) == 0 {
		return c.Send(h.Text(c, "admin.usage", nil))
	}

	sub, rest := strings.ToLower(args[0]), args[1:]
	switch sub {
	case "users":
		page := 1
		if len(rest) > 0 {
			if n, err := strconv.Atoi(rest[0]); err == nil {
				page = n
			}
		}
		return h.sendUsersPage(c, page)
	case "withdrawals":
		return h.sendPendingWithdrawals(c)
	case "stats":
		stats, err := h.Ledger.Stats(Ctx(c))
		if err != nil {
			return err
		}
		return c.Send(jobhandlers.RenderStats(h.Translator(c), h.Currency, stats))
	case "approve", "reject", "paid":
		id, ok := parseID(rest)
		if !ok {
			return c.Send(h.Text(c, "admin.invalid_id", nil))
		}
		return h.processWithdrawal(c, id, adminStatuses[sub])
	case "activate", "deactivate":
		id, ok := parseID(rest)
		if !ok {
			return c.Send(h.Text(c, "admin.invalid_id", nil))
		}
		return h.setActive(c, id, sub == "activate")
	default:
		return c.Send(h.Text(c, "admin.usage", nil))
	}
}

var adminStatuses = map[string]domain.WithdrawalStatus{
	"approve": domain.WithdrawalApproved,
	"reject":  domain.WithdrawalRejected,
	"paid":    domain.WithdrawalPaid,
}

// AdminUsersPage serves the pagination buttons of the user list.
func (h *Chat) AdminUsersPage(c telebot.Context) error {
	if c.Sender() == nil || !h.isAdmin(c.Sender().ID) {
		return c.Respond(&telebot.CallbackResponse{Text: h.Text(c, "admin.denied", nil)})
	}

	page, err := strconv.Atoi(CallbackData(c))
	if err != nil {
		page = 1
	}
	return h.sendUsersPage(c, page)
}

func (h *Chat) sendUsersPage(c telebot.Context, requested int) error {
	users, err := h.Ledger.ListAllUsers(Ctx(c))
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return reply(c, h.Text(c, "admin.no_users", nil))
	}

	page := keyboard.Paginate(requested, len(users), usersPerPage)
	start, end := page.Bounds(len(users))

	lines := []string{h.Text(c, "admin.users_header", i18n.Vars{"Page": page.Number, "Total": page.Count})}
	for _, u := range users[start:end] {
		lines = append(lines, h.userLine(c, u))
	}

	text := strings.Join(lines, "\n")
	if page.Count == 1 {
		return reply(c, text)
	}
	return reply(c, text, h.Keyboard.AdminUsers(h.Translator(c), page))
}

func (h *Chat) userLine(c telebot.Context, u domain.User) string {
	handle := ""
	if u.Handle != "" {
		handle = "@" + u.Handle
	}
	inactive := ""
	if !u.Active {
		inactive = h.Text(c, "admin.inactive_mark", nil)
	}
	return h.Text(c, "admin.user_line", i18n.Vars{
		"ID":        u.ID,
		"Name":      u.DisplayName,
		"Handle":    handle,
		"Code":      u.ReferralCode,
		"Balance":   u.Balance,
		"Referrals": u.TotalReferrals,
		"Inactive":  inactive,
	})
}

func (h *Chat) sendPendingWithdrawals(c telebot.Context) error {
	pending, err := h.Ledger.ListPendingWithdrawals(Ctx(c))
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return c.Send(h.Text(c, "admin.no_withdrawals", nil))
	}

	lines := []string{h.Text(c, "admin.withdrawals_header", nil)}
	for _, p := range pending {
		lines = append(lines, h.Text(c, "admin.withdrawal_line", i18n.Vars{
			"ID":        p.ID,
			"UserID":    p.UserID,
			"Name":      p.DisplayName,
			"Amount":    p.Amount,
			"Method":    p.PaymentMethod,
			"Details":   p.PaymentDetails,
			"CreatedAt": p.CreatedAt.Format("2006-01-02 15:04"),
		}))
	}

	for _, chunk := range chunkLines(lines, maxMessageLength) {
		if err := c.Send(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (h *Chat) processWithdrawal(c telebot.Context, id int64, status domain.WithdrawalStatus) error {
	ctx := Ctx(c)
	w, err := h.Ledger.ProcessWithdrawal(ctx, id, status)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return c.Send(h.Text(c, "admin.not_found", i18n.Vars{"ID": id}))
	case errors.Is(err, ledger.ErrInvalidTransition):
		return c.Send(h.Text(c, "admin.invalid_transition", i18n.Vars{"ID": id, "Status": status}))
	case err != nil:
		return err
	}

	h.Log.InfoContext(ctx, "withdrawal processed",
		slog.Int64("withdrawal_id", w.ID),
		slog.String("status", string(w.Status)),
		slog.Int64("admin_id", c.Sender().ID),
	)

	task, taskErr := jobs.NewWithdrawalStatusTask(w)
	h.enqueue(ctx, task, taskErr)

	return c.Send(h.Text(c, "admin.withdrawal_updated", i18n.Vars{"ID": w.ID, "Status": w.Status}))
}

func (h *Chat) setActive(c telebot.Context, id int64, active bool) error {
	ctx := Ctx(c)
	err := h.Ledger.SetActive(ctx, id, active)
	if errors.Is(err, ledger.ErrNotFound) {
		return c.Send(h.Text(c, "admin.not_found", i18n.Vars{"ID": id}))
	}
	if err != nil {
		return err
	}

	h.Log.InfoContext(ctx, "user activity changed",
		slog.Int64("target_id", id),
		slog.Bool("active", active),
		slog.Int64("admin_id", c.Sender().ID),
	)

	stateKey := "admin.state_inactive"
	if active {
		stateKey = "admin.state_active"
	}
	return c.Send(h.Text(c, "admin.user_updated", i18n.Vars{"ID": id, "State": h.Text(c, stateKey, nil)}))
}

func parseID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// chunkLines packs lines into messages no longer than limit. A single
// oversized line becomes its own message.
func chunkLines(lines []string, limit int) []string {
	var (
		chunks  []string
		current strings.Builder
	)
	for _, line := range lines {
		if current.Len() > 0 && current.Len()+1+len(line) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
