package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/reenact/internal/agent"
	"github.com/rahul/reenact/internal/gateway"
	"github.com/rahul/reenact/internal/observability"
)

var dashboard bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer chat requests over Telegram/Discord and run scheduled requests",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func init() {
	serveCmd.Flags().BoolVar(&dashboard, "dashboard", true, "show the live status line")
	rootCmd.AddCommand(serveCmd)
}

func serve(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	observability.PrintBanner()
	if dashboard {
		observability.InitializeTerminal()
		defer observability.CleanupTerminal()
		// Route all log output through the terminal mutex so it never
		// interrupts the dashboard's cursor save/restore sequence.
		log.SetOutput(observability.NewTermWriter())
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.newMatcher()
	if err != nil {
		return err
	}
	op := agent.NewOperator(a.store, m, runner{app: a})
	op.Reports = a.store
	op.Schedules = a.store
	op.Logger = a.logger

	router := &gateway.Router{}
	if tgCfg, ok := cfg.Gateway("telegram"); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, op, tgCfg.AllowedChats)
		if err != nil {
			return err
		}
		router.Gateways = append(router.Gateways, tg)
	}
	if dcCfg, ok := cfg.Gateway("discord"); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, dcCfg.GuildID, op, dcCfg.AllowedUsers)
		if err != nil {
			return err
		}
		router.Gateways = append(router.Gateways, dc)
	}
	if len(router.Gateways) == 0 {
		return errors.New("no gateway is enabled with a token in the config")
	}

	ctx, stop := signalContext()
	defer stop()

	scheduler := agent.NewScheduler(op, a.store, router)
	scheduler.Logger = a.logger
	go scheduler.Start(ctx)

	if dashboard {
		go func() {
			ticker := time.NewTicker(1 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					observability.PrintLiveStatus()
				}
			}
		}()
	}

	for _, g := range router.Gateways {
		go func(g gateway.Messenger) {
			if err := g.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
				stop()
			}
		}(g)
	}

	<-ctx.Done()
	shutdown(router)
	return nil
}

func shutdown(router *gateway.Router) {
	done := make(chan struct{})
	go func() {
		if err := router.Stop(); err != nil {
			log.Printf("[serve] stopping gateways: %v", err)
		}
		close(done)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
}
