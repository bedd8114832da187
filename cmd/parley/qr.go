package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/parleyhq/parley/internal/telegram"
)

// runQR looks up the bot's username and prints a terminal QR code for
// its t.me deep link, for putting the bot on a phone quickly.
func runQR(ctx context.Context, w io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required for qr")
	}

	logger := newLogger(w, slog.LevelWarn)
	api := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.BaseURL, logger)

	me, err := api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("look up bot: %w", err)
	}
	if me.Username == "" {
		return fmt.Errorf("bot has no username")
	}

	link := "https://t.me/" + me.Username
	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("generate QR code: %w", err)
	}

	fmt.Fprintf(w, "%s\n%s\n", link, qr.ToSmallString(false))
	return nil
}
