package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/leadpilot/adops-go/internal/config"
	"github.com/leadpilot/adops-go/internal/models"
)

// NotificationService pushes budget and experiment alerts to the operations
// Telegram channel. A missing bot token disables it; every Notify* call then
// becomes a no-op so callers never need to branch.
type NotificationService struct {
	bot     *bot.Bot
	chatID  int64
	logger  *logrus.Logger
	printer *message.Printer
}

// NewNotificationService creates the Telegram notifier. With an empty token
// or chat id the service is created disabled.
func NewNotificationService(cfg config.TelegramConfig, logger *logrus.Logger) *NotificationService {
	ns := &NotificationService{
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}

	if cfg.BotToken == "" || cfg.ChatID == "" {
		logger.Info("Telegram notifications disabled: no bot token or chat id configured")
		return ns
	}

	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		logger.WithError(err).Warn("Telegram notifications disabled: invalid chat id")
		return ns
	}

	b, err := bot.New(cfg.BotToken)
	if err != nil {
		logger.WithError(err).Warn("Telegram notifications disabled: bot init failed")
		return ns
	}

	ns.bot = b
	ns.chatID = chatID
	return ns
}

// Enabled reports whether a bot is wired up.
func (ns *NotificationService) Enabled() bool {
	return ns.bot != nil
}

// NotifyBudgetApplied reports the outcome of a campaign budget apply batch.
func (ns *NotificationService) NotifyBudgetApplied(ctx context.Context, campaignID string, recommendations []models.BudgetRecommendation, report *models.BudgetApplyReport) {
	if !ns.Enabled() || report.AppliedCount == 0 {
		return
	}

	applied := make(map[string]bool, len(report.Applied))
	for _, id := range report.Applied {
		applied[id] = true
	}

	var b strings.Builder
	b.WriteString("💸 *Budget Update Applied*\n\n")
	b.WriteString(fmt.Sprintf("Campaign `%s`: %d ad set(s) updated\n\n", campaignID, report.AppliedCount))

	for _, rec := range recommendations {
		if !applied[rec.AdSetID] {
			continue
		}
		b.WriteString(fmt.Sprintf("• `%s`: %s → %s (%+.1f%%)\n",
			rec.AdSetID,
			ns.money(rec.CurrentBudget.InexactFloat64()),
			ns.money(rec.RecommendedBudget.InexactFloat64()),
			rec.ChangePct))
	}

	if len(report.Skipped) > 0 {
		b.WriteString(fmt.Sprintf("\n⏸ %d skipped (low confidence)\n", len(report.Skipped)))
	}
	if len(report.Failed) > 0 {
		b.WriteString(fmt.Sprintf("⚠️ %d failed to apply\n", len(report.Failed)))
	}

	ns.send(ctx, b.String())
}

// NotifyCrossPlatformApplied reports the outcome of a cross-platform apply
// batch.
func (ns *NotificationService) NotifyCrossPlatformApplied(ctx context.Context, rec *models.CrossPlatformRecommendation, report *models.CrossPlatformApplyReport) {
	if !ns.Enabled() || len(report.Applied) == 0 {
		return
	}

	applied := make(map[models.Platform]bool, len(report.Applied))
	for _, p := range report.Applied {
		applied[p] = true
	}

	var b strings.Builder
	b.WriteString("🌐 *Cross-Platform Reallocation*\n\n")
	b.WriteString(fmt.Sprintf("Persona `%s` · strategy *%s* · total %s\n\n",
		rec.PersonaID, rec.Strategy, ns.money(rec.TotalBudget.InexactFloat64())))

	for _, alloc := range rec.Allocations {
		if !applied[alloc.Platform] {
			continue
		}
		b.WriteString(fmt.Sprintf("• *%s*: %s → %s\n",
			alloc.Platform,
			ns.money(alloc.CurrentBudget.InexactFloat64()),
			ns.money(alloc.RecommendedBudget.InexactFloat64())))
	}

	if rec.ExpectedImprovement != 0 {
		b.WriteString(fmt.Sprintf("\n📈 Expected improvement: %+.1f%%\n", rec.ExpectedImprovement))
	}
	if len(report.Failed) > 0 {
		b.WriteString(fmt.Sprintf("⚠️ %d platform(s) failed to sync\n", len(report.Failed)))
	}

	ns.send(ctx, b.String())
}

// NotifyStoppableExperiment alerts the channel that an experiment's stopping
// rules have fired. Satisfies ExperimentNotifier.
func (ns *NotificationService) NotifyStoppableExperiment(ctx context.Context, exp *models.Experiment, decision *models.StoppingDecision) {
	if !ns.Enabled() || !decision.ShouldStop {
		return
	}

	var b strings.Builder
	b.WriteString("🧪 *Experiment Ready to Stop*\n\n")
	b.WriteString(fmt.Sprintf("*%s* (`%s`)\n", exp.Name, exp.ID))
	for _, reason := range decision.Reasons {
		b.WriteString(fmt.Sprintf("• %s\n", reason))
	}
	if exp.Results != nil {
		b.WriteString(fmt.Sprintf("\np-value %.4f · lift %+.1f%%", exp.Results.PValue, exp.Results.Lift*100))
		if exp.Results.Winner != "" {
			b.WriteString(fmt.Sprintf(" · winner *%s*", exp.Results.Winner))
		}
		b.WriteString("\n")
	}

	ns.send(ctx, b.String())
}

func (ns *NotificationService) money(v float64) string {
	return ns.printer.Sprintf("$%.2f", v)
}

func (ns *NotificationService) send(ctx context.Context, text string) {
	_, err := ns.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    ns.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	if err != nil {
		ns.logger.WithError(err).Warn("Failed to send telegram notification")
	}
}
