package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	marketModels "github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/telemetry"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
)

// NotificationService pushes session lifecycle alerts to every forecaster
// with a telegram chat id. It satisfies Notifier; without a bot token each
// broadcast is a logged no-op, so an unconfigured market still runs.
type NotificationService struct {
	store  interfaces.MarketStore
	bot    *bot.Bot
	tracer *telemetry.BusinessTracer
}

// NewNotificationService creates the notifier. An empty token leaves the bot
// nil and disables sending.
func NewNotificationService(store interfaces.MarketStore, telegramBotToken string) *NotificationService {
	var telegramBot *bot.Bot
	if telegramBotToken != "" {
		telegramBot, _ = bot.New(telegramBotToken)
	}

	return &NotificationService{
		store:  store,
		bot:    telegramBot,
		tracer: telemetry.NewBusinessTracer(),
	}
}

// Configured reports whether a telegram bot is wired up.
func (ns *NotificationService) Configured() bool {
	return ns.bot != nil
}

// SessionOpened announces the day's challenges.
func (ns *NotificationService) SessionOpened(ctx context.Context, session *marketModels.MarketSession, challenges []marketModels.Challenge) {
	message := ns.formatOpenMessage(ctx, session, challenges)
	ns.broadcast(ctx, "session open", message)
}

// SessionLaunched announces the published ensemble results.
func (ns *NotificationService) SessionLaunched(ctx context.Context, session *marketModels.MarketSession, results []marketModels.EnsembleResult) {
	message := ns.formatLaunchMessage(session, results)
	ns.broadcast(ctx, "session launch", message)
}

// SessionFinished announces the scored leaderboard.
func (ns *NotificationService) SessionFinished(ctx context.Context, session *marketModels.MarketSession, scores []marketModels.ScoreRecord) {
	message := ns.formatFinishMessage(ctx, session, scores)
	ns.broadcast(ctx, "session finish", message)
}

// formatOpenMessage lists the open challenges with their target periods.
func (ns *NotificationService) formatOpenMessage(ctx context.Context, session *marketModels.MarketSession, challenges []marketModels.Challenge) string {
	message := "📣 *Market Session Open*\n\n"
	message += fmt.Sprintf("Session date: %s\n", session.SessionDate.Format("Mon, Jan 2 2006"))
	message += fmt.Sprintf("Gate closes: %s\n\n", session.GateClosureAt.Format("15:04 MST"))
	message += fmt.Sprintf("%d challenges accepting submissions:\n\n", len(challenges))

	shown := challenges
	if len(shown) > 3 {
		shown = shown[:3]
	}
	for _, challenge := range shown {
		name := challenge.ResourceID
		if resource, err := ns.store.GetResource(ctx, challenge.ResourceID); err == nil {
			name = resource.Name
		}
		message += fmt.Sprintf("• *%s* (%s)\n", name, displayUseCase(challenge.UseCase))
		message += fmt.Sprintf("  %s → %s\n", challenge.StartAt.Format("Jan 2 15:04"), challenge.EndAt.Format("Jan 2 15:04 MST"))
	}
	if len(challenges) > 3 {
		message += fmt.Sprintf("\n...and %d more challenges\n", len(challenges)-3)
	}

	message += "\n⏳ Submit q10/q50/q90 series before the gate closes."
	return message
}

// formatLaunchMessage summarizes which quantiles computed and which did not.
func (ns *NotificationService) formatLaunchMessage(session *marketModels.MarketSession, results []marketModels.EnsembleResult) string {
	available := 0
	var unavailable []marketModels.EnsembleResult
	for _, result := range results {
		if result.Available {
			available++
		} else {
			unavailable = append(unavailable, result)
		}
	}

	message := "🚀 *Ensemble Results Launched*\n\n"
	message += fmt.Sprintf("Session date: %s\n", session.SessionDate.Format("Mon, Jan 2 2006"))
	message += fmt.Sprintf("Computed: *%d of %d* quantiles\n", available, len(results))

	if len(unavailable) > 0 {
		message += "\nUnavailable:\n"
		shown := unavailable
		if len(shown) > 3 {
			shown = shown[:3]
		}
		for _, result := range shown {
			message += fmt.Sprintf("• %s %s: %s\n", result.ChallengeID, result.Variable, result.Reason)
		}
		if len(unavailable) > 3 {
			message += fmt.Sprintf("...and %d more\n", len(unavailable)-3)
		}
	}

	message += "\n📊 Results are live. Ground truth scoring follows."
	return message
}

// formatFinishMessage builds the top-3 leaderboard from the median RMSE
// ranking.
func (ns *NotificationService) formatFinishMessage(ctx context.Context, session *marketModels.MarketSession, scores []marketModels.ScoreRecord) string {
	leaders := make([]marketModels.ScoreRecord, 0, len(scores))
	for _, record := range scores {
		if record.Variable == marketModels.VariableQ50 && record.Metric == marketModels.MetricRMSE {
			leaders = append(leaders, record)
		}
	}
	sort.Slice(leaders, func(i, j int) bool {
		if leaders[i].Rank != leaders[j].Rank {
			return leaders[i].Rank < leaders[j].Rank
		}
		return leaders[i].ForecasterID < leaders[j].ForecasterID
	})

	message := "🏁 *Market Session Finished*\n\n"
	message += fmt.Sprintf("Session date: %s\n", session.SessionDate.Format("Mon, Jan 2 2006"))

	if len(leaders) == 0 {
		message += "\nNo scored submissions this session."
		return message
	}

	medals := []string{"🥇", "🥈", "🥉"}
	message += "\nLeaderboard (median RMSE):\n"
	for i, record := range leaders {
		if i >= len(medals) {
			break
		}
		name := record.ForecasterID
		if forecaster, err := ns.store.GetForecaster(ctx, record.ForecasterID); err == nil {
			name = forecaster.DisplayName
		}
		message += fmt.Sprintf("%s *%s*: %.3f\n", medals[i], name, record.Value)
	}

	message += "\n🎯 Contribution weights and payouts are final for this batch."
	return message
}

// broadcast sends one message to every forecaster with a chat id. Send
// failures are logged per recipient and never abort the rest.
func (ns *NotificationService) broadcast(ctx context.Context, kind, message string) {
	if ns.bot == nil {
		log.Printf("Telegram bot not configured, skipping %s alert", kind)
		return
	}

	ctx, span := ns.tracer.TraceNotification(ctx, kind, "telegram")
	defer span.End()

	forecasters, err := ns.eligibleForecasters(ctx)
	if err != nil {
		log.Printf("Failed to resolve %s recipients: %v", kind, err)
		ns.tracer.RecordNotificationResult(span, 0, 0, err)
		return
	}
	if len(forecasters) == 0 {
		log.Printf("No forecasters with telegram chat ids for %s alert", kind)
		ns.tracer.RecordNotificationResult(span, 0, 0, nil)
		return
	}

	sent := 0
	for _, forecaster := range forecasters {
		if err := ns.send(ctx, forecaster, message); err != nil {
			log.Printf("Failed to send %s alert to forecaster %s: %v", kind, forecaster.ID, err)
			continue
		}
		sent++
	}
	log.Printf("Sent %s alerts to %d of %d forecasters", kind, sent, len(forecasters))
	ns.tracer.RecordNotificationResult(span, sent, len(forecasters), nil)
}

// eligibleForecasters returns the participants who can receive telegram
// messages.
func (ns *NotificationService) eligibleForecasters(ctx context.Context) ([]marketModels.Forecaster, error) {
	forecasters, err := ns.store.ListForecasters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list forecasters: %w", err)
	}

	eligible := make([]marketModels.Forecaster, 0, len(forecasters))
	for _, forecaster := range forecasters {
		if forecaster.TelegramChatID != nil && *forecaster.TelegramChatID != "" {
			eligible = append(eligible, forecaster)
		}
	}
	return eligible, nil
}

// send delivers one markdown message to one forecaster.
func (ns *NotificationService) send(ctx context.Context, forecaster marketModels.Forecaster, message string) error {
	if ns.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(*forecaster.TelegramChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	_, err = ns.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      message,
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// displayUseCase renders a use-case tag for humans: "wind_power" becomes
// "Wind Power".
func displayUseCase(useCase marketModels.UseCase) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(useCase), "_", " "))
}
