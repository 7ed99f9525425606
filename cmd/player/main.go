// cmd/player/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/pickup/internal/cache"
	"github.com/jason-s-yu/pickup/internal/config"
	"github.com/jason-s-yu/pickup/internal/dealer"
	"github.com/jason-s-yu/pickup/internal/logging"
	"github.com/jason-s-yu/pickup/internal/models"
	_ "github.com/joho/godotenv/autoload"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
)

const (
	actionShuffle = "Shuffle"
	actionQuit    = "Quit"
)

func main() {
	envFile := flag.String("env", "", "extra env file to load on top of .env")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		pterm.Error.Printfln("config: %v", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel)

	os.Exit(run(cfg, logger))
}

// run drives one dealer session from the terminal and returns the exit code.
func run(cfg config.Config, logger *logrus.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := dealer.NewSession(dealer.Addr(cfg.DealerHost, cfg.DealerPort), logger)
	session.ConnectTimeout = cfg.ConnectTimeout
	session.ReadTimeout = cfg.ReadTimeout
	session.WriteTimeout = cfg.WriteTimeout
	if cfg.Transport == config.TransportWebSocket {
		session.Dialer = dealer.WebSocketDialer{Path: cfg.WSPath}
	}

	var recorder *cache.Recorder
	if cfg.JournalEnabled() {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.WithError(err).Warn("Deck journal disabled")
		} else {
			defer rdb.Close()
			recorder = cache.NewRecorder(cache.NewJournal(rdb, cfg.JournalQueue), session.ID(), session.Addr(), logger.WithField("session", session.ID()))
		}
	}

	// The read loop only hands decks over; drawing and journaling happen here.
	updates := make(chan models.Deck, 16)
	lost := make(chan error, 1)
	session.OnDeckUpdated = func(d models.Deck) { updates <- d }
	session.OnConnectionLost = func(err error) { lost <- err }

	pterm.DefaultHeader.WithFullWidth().Println("Dealer table")
	spinner, _ := pterm.DefaultSpinner.Start("Connecting to the dealer at " + session.Addr() + " ...")
	if err := session.Connect(ctx); err != nil {
		spinner.Fail("Unable to reach the dealer: " + err.Error())
		return 1
	}
	spinner.Success("Connected to the dealer")

	go func() {
		for {
			select {
			case d := <-updates:
				if recorder != nil {
					recorder.Record(d)
				}
				out, err := renderDeck(d)
				if err != nil {
					logger.WithError(err).Error("Unable to draw deck")
					continue
				}
				pterm.Println()
				pterm.Println(out)
			case <-session.Done():
				return
			}
		}
	}()

	actions := make(chan string)
	go promptLoop(actions)

	for {
		select {
		case err := <-lost:
			pterm.Error.Printfln("The dealer went away: %v", err)
			return 1

		case <-ctx.Done():
			pterm.Info.Println("Interrupted, leaving the table.")
			disconnect(session)
			return 0

		case action := <-actions:
			switch action {
			case actionShuffle:
				if err := session.RequestShuffle(); err != nil {
					pterm.Warning.Printfln("Shuffle request failed: %v", err)
				}
			case actionQuit:
				disconnect(session)
				pterm.Info.Println("Left the table.")
				return 0
			}
		}
	}
}

// promptLoop asks for the next action forever. Quit needs confirming.
func promptLoop(actions chan<- string) {
	for {
		selected, err := pterm.DefaultInteractiveSelect.
			WithDefaultText("Select your next action").
			WithOptions([]string{actionShuffle, actionQuit}).
			Show()
		if err != nil {
			actions <- actionQuit
			return
		}
		if selected == actionQuit {
			confirm, _ := pterm.DefaultInteractiveConfirm.
				WithDefaultText("Are you sure you really want to leave the table?").
				WithDefaultValue(false).
				Show()
			if !confirm {
				pterm.Info.Println("Staying at the table.")
				continue
			}
		}
		actions <- selected
		if selected == actionQuit {
			return
		}
	}
}

func disconnect(s *dealer.Session) {
	if err := s.Disconnect(); err != nil {
		pterm.Warning.Printfln("Disconnect: %v", err)
	}
}
