// Command sweep 运行一次到期房间清扫后退出，供 cron 等外部调度器调用。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/config"
	"github.com/vivek5200/Temp-Chat/internal/db"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/expiry"
	clog "github.com/vivek5200/Temp-Chat/internal/log"
	"github.com/vivek5200/Temp-Chat/internal/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Error().Err(err).Msg("sweep")
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		envFile string
		driver  string
		dsn     string
		timeout time.Duration
	)
	flags := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	flags.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	flags.StringVar(&driver, "driver", "", "database driver (postgres or sqlite), overrides DATABASE_DRIVER")
	flags.StringVar(&dsn, "dsn", "", "database DSN, overrides DATABASE_DSN")
	flags.DurationVar(&timeout, "timeout", 5*time.Minute, "maximum time for the whole sweep")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := godotenv.Load(envFile); err != nil && flags.Changed("env-file") {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg := config.Load()
	if driver != "" {
		cfg.DatabaseDriver = driver
	}
	if dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	clog.Init(cfg.Env, "tempchat-sweep")

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	clk := clock.Real()
	store := docstore.NewGormStore(gdb, clk)
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("docstore migrate: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	rooms := service.NewRoomService(store, clk, cfg.DefaultRoomTTLMinutes)
	res, err := expiry.NewSweeper(rooms, clk).Run(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("scanned", res.Scanned).Int("deleted", res.Deleted).Int("failed", res.Failed).Msg("sweep finished")
	fmt.Printf("deleted %d of %d expired rooms\n", res.Deleted, res.Scanned)
	if res.Failed > 0 {
		return fmt.Errorf("%d rooms failed to delete", res.Failed)
	}
	return nil
}
