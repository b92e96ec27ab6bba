package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"PriceAlarm/internal/domain/models"
	drepo "PriceAlarm/internal/domain/repository"
	"PriceAlarm/internal/service/ratelimit"
	applogger "PriceAlarm/pkg/logger"
)

const usageText = `Price alarms for B3 tickers.

/alarm TICKER ABOVE|BELOW PRICE - set an alarm (e.g. /alarm PETR4 ABOVE 30,50)
/list - show your alarms
/remove TICKER - remove the alarm for a ticker
/clear - remove all your alarms
/help - this message`

const unknownCommandText = "Unknown command. Send /help to see what I understand."

// Command is one chat command. Args are the whitespace-separated words after
// the command name.
type Command struct {
	ChatID string
	Name   string
	Args   []string
}

type commandHandler func(ctx context.Context, cmd Command) (string, error)

// CommandRouter dispatches chat commands through a handler table and replies
// on the same notifier the alarms use.
type CommandRouter struct {
	alarms   *AlarmService
	notifier drepo.Notifier
	limiter  *ratelimit.Limiter
	log      *applogger.Logger
	handlers map[string]commandHandler
}

func NewCommandRouter(alarms *AlarmService, notifier drepo.Notifier, limiter *ratelimit.Limiter, l *applogger.Logger) *CommandRouter {
	r := &CommandRouter{
		alarms:   alarms,
		notifier: notifier,
		limiter:  limiter,
		log:      l,
	}
	r.handlers = map[string]commandHandler{
		"start":  r.help,
		"help":   r.help,
		"alarm":  r.setAlarm,
		"add":    r.setAlarm,
		"list":   r.list,
		"remove": r.remove,
		"clear":  r.clear,
	}
	return r
}

// ParseCommand splits "/alarm@Bot PETR4 above 30" into a Command. ok is false
// for text that is not a command.
func ParseCommand(chatID, text string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return Command{ChatID: chatID, Name: strings.ToLower(name), Args: fields[1:]}, true
}

// HandleText processes one inbound chat message. Plain text is ignored.
func (r *CommandRouter) HandleText(ctx context.Context, chatID, text string) error {
	cmd, ok := ParseCommand(chatID, text)
	if !ok {
		return nil
	}
	if r.limiter != nil && !r.limiter.Allow(chatID) {
		r.log.Warn("command rate limited", applogger.String("chat_id", chatID), applogger.String("command", cmd.Name))
		return nil
	}

	reply, err := r.Execute(ctx, cmd)
	if err != nil {
		r.log.Error("command failed",
			applogger.String("chat_id", chatID),
			applogger.String("command", cmd.Name),
			applogger.Error(err),
		)
		reply = "Something went wrong, please try again later."
	}
	if reply == "" {
		return nil
	}
	return r.notifier.Send(ctx, chatID, reply)
}

// Execute runs a command and returns the reply text. User mistakes come back
// as replies; only infrastructure failures are errors.
func (r *CommandRouter) Execute(ctx context.Context, cmd Command) (string, error) {
	h, ok := r.handlers[cmd.Name]
	if !ok {
		return unknownCommandText, nil
	}
	return h(ctx, cmd)
}

func (r *CommandRouter) help(context.Context, Command) (string, error) {
	return usageText, nil
}

func (r *CommandRouter) setAlarm(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Args) != 3 {
		return "Usage: /alarm TICKER ABOVE|BELOW PRICE", nil
	}
	a, err := r.alarms.Set(ctx, cmd.ChatID, cmd.Args[0], cmd.Args[1], cmd.Args[2])
	if errors.Is(err, models.ErrInvalidAlarm) {
		return fmt.Sprintf("Invalid alarm: %s\nUsage: /alarm TICKER ABOVE|BELOW PRICE", userMessage(err)), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Alarm set: %s %s R$ %s", a.Ticker, a.Direction.Label(), a.Target.StringFixed(2)), nil
}

func (r *CommandRouter) list(ctx context.Context, cmd Command) (string, error) {
	alarms, err := r.alarms.List(ctx, cmd.ChatID)
	if err != nil {
		return "", err
	}
	if len(alarms) == 0 {
		return "You have no alarms.", nil
	}
	sort.Slice(alarms, func(i, j int) bool { return alarms[i].Ticker < alarms[j].Ticker })

	var b strings.Builder
	b.WriteString("Your alarms:")
	for _, a := range alarms {
		fmt.Fprintf(&b, "\n%s %s R$ %s", a.Ticker, a.Direction.Label(), a.Target.StringFixed(2))
	}
	return b.String(), nil
}

func (r *CommandRouter) remove(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Args) != 1 {
		return "Usage: /remove TICKER", nil
	}
	ticker := models.NormalizeTicker(cmd.Args[0])
	err := r.alarms.RemoveTicker(ctx, cmd.ChatID, ticker)
	if errors.Is(err, models.ErrAlarmNotFound) {
		return fmt.Sprintf("No alarm for %s.", ticker), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Alarm removed: %s", ticker), nil
}

func (r *CommandRouter) clear(ctx context.Context, cmd Command) (string, error) {
	n, err := r.alarms.Clear(ctx, cmd.ChatID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %d alarm(s).", n), nil
}

// userMessage strips the sentinel prefix from validation errors.
func userMessage(err error) string {
	return strings.TrimPrefix(err.Error(), models.ErrInvalidAlarm.Error()+": ")
}
