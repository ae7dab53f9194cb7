// Command validate-telegram checks the bot credentials an operator has
// configured before the market relies on them: the token must build a bot,
// the API must answer GetMe, and the optional ops chat id must be numeric.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"

	"github.com/prismcast/prismcast-go/internal/config"
)

// botAPI is the slice of the telegram client the validator calls.
type botAPI interface {
	GetMe(ctx context.Context) (*models.User, error)
}

func main() {
	fmt.Println("Validating telegram bot configuration...")

	if err := godotenv.Load(); err != nil {
		fmt.Printf("No .env file loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.Telegram.BotToken == "" {
		fmt.Println("❌ TELEGRAM_BOT_TOKEN is not configured")
		os.Exit(1)
	}
	fmt.Printf("✅ TELEGRAM_BOT_TOKEN is configured (length %d)\n", len(cfg.Telegram.BotToken))

	b, err := bot.New(cfg.Telegram.BotToken)
	if err != nil {
		fmt.Printf("❌ Failed to create telegram bot: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := validate(ctx, cfg.Telegram, b, os.Stdout); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	fmt.Println("🎉 All telegram checks passed")
}

func validate(ctx context.Context, cfg config.TelegramConfig, api botAPI, out io.Writer) error {
	info, err := api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("bot API connection failed: %w", err)
	}
	fmt.Fprintf(out, "✅ Connected as @%s (id %d)\n", info.Username, info.ID)

	if cfg.OpsChatID == "" {
		fmt.Fprintln(out, "⚠️  telegram.ops_chat_id is not set; alerts go to forecasters only")
		return nil
	}
	if _, err := strconv.ParseInt(cfg.OpsChatID, 10, 64); err != nil {
		return fmt.Errorf("telegram.ops_chat_id %q is not a numeric chat id", cfg.OpsChatID)
	}
	fmt.Fprintf(out, "✅ Ops chat id %s is valid\n", cfg.OpsChatID)
	return nil
}
