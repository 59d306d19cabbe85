// Package tripchat parses command flags and runs the terminal chat client.
//
// The client is a manual-testing surface for the sync engine: it joins one
// trip, prints timeline updates as they land and turns stdin lines into
// commands.
package tripchat

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/roamio/tripchat/internal/chat"
	"github.com/roamio/tripchat/internal/chat/api"
	"github.com/roamio/tripchat/internal/chat/cache"
	cachesqlite "github.com/roamio/tripchat/internal/chat/cache/sqlite"
	"github.com/roamio/tripchat/internal/chat/engine"
	"github.com/roamio/tripchat/internal/chat/session"
	entrypoint "github.com/roamio/tripchat/internal/platform/cmd"
)

// Config holds tripchat command configuration.
type Config struct {
	APIBaseURL string `env:"TRIPCHAT_API_BASE_URL" envDefault:"http://localhost:8080"`
	WSBaseURL  string `env:"TRIPCHAT_WS_BASE_URL"  envDefault:"ws://localhost:8080"`
	AuthToken  string `env:"TRIPCHAT_AUTH_TOKEN"`
	TripID     string `env:"TRIPCHAT_TRIP_ID"`
	UserID     string `env:"TRIPCHAT_USER_ID"`
	UserName   string `env:"TRIPCHAT_USER_NAME"    envDefault:"traveler"`
	CachePath  string `env:"TRIPCHAT_CACHE_PATH"`
	PageSize   int    `env:"TRIPCHAT_PAGE_SIZE"    envDefault:"20"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.APIBaseURL, "api-base-url", cfg.APIBaseURL, "chat REST base URL")
	fs.StringVar(&cfg.WSBaseURL, "ws-base-url", cfg.WSBaseURL, "chat websocket base URL")
	fs.StringVar(&cfg.AuthToken, "auth-token", cfg.AuthToken, "bearer token for both boundaries")
	fs.StringVar(&cfg.TripID, "trip", cfg.TripID, "trip to join")
	fs.StringVar(&cfg.UserID, "user", cfg.UserID, "local user id")
	fs.StringVar(&cfg.UserName, "name", cfg.UserName, "local display name")
	fs.StringVar(&cfg.CachePath, "cache-path", cfg.CachePath, "sqlite message cache path (empty disables caching)")
	fs.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "history page size")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run joins the configured trip and relays between the terminal and the
// engine until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTripchat, func(ctx context.Context) error {
		if strings.TrimSpace(cfg.TripID) == "" {
			return fmt.Errorf("trip id is required")
		}
		if strings.TrimSpace(cfg.UserID) == "" {
			return fmt.Errorf("user id is required")
		}

		client, err := api.NewClient(api.Config{
			BaseURL:   cfg.APIBaseURL,
			AuthToken: cfg.AuthToken,
		})
		if err != nil {
			return fmt.Errorf("build api client: %w", err)
		}

		var store cache.Store
		if strings.TrimSpace(cfg.CachePath) != "" {
			store, err = cachesqlite.Open(cfg.CachePath)
			if err != nil {
				return fmt.Errorf("open message cache: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Printf("close message cache: %v", err)
				}
			}()
		}

		wsBase := strings.TrimRight(strings.TrimSpace(cfg.WSBaseURL), "/")
		e := engine.New(engine.Options{
			API:       client,
			LocalUser: chat.Sender{ID: cfg.UserID, Name: cfg.UserName},
			StreamURL: func(tripID string) string {
				return wsBase + "/ws/trips/" + tripID
			},
			Cache:    store,
			PageSize: cfg.PageSize,
		})
		defer e.CloseAll()

		sess, err := e.Open(ctx, cfg.TripID)
		if err != nil {
			return fmt.Errorf("open trip: %w", err)
		}
		if err := sess.LoadMore(ctx); err != nil {
			log.Printf("initial history fetch: %v", err)
		}

		go render(ctx, sess)
		return readCommands(ctx, sess)
	})
}

// readCommands turns stdin lines into session commands. A plain line sends
// a message; /more pages older history; /quit exits.
func readCommands(ctx context.Context, sess *session.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch {
			case strings.TrimSpace(line) == "":
			case line == "/quit":
				return nil
			case line == "/more":
				if err := sess.LoadMore(ctx); err != nil {
					fmt.Printf("! load more: %v\n", err)
				}
			default:
				sess.SetTyping(false)
				if _, err := sess.Send(ctx, line); err != nil {
					fmt.Printf("! send: %v\n", err)
				}
			}
		}
	}
}

// render polls the snapshot and prints entries not shown yet, plus typing
// indicator changes.
func render(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	printed := make(map[string]chat.MessageStatus)
	lastTyping := ""

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := sess.Snapshot()
			for _, msg := range snapshot.Messages {
				if status, ok := printed[msg.ID]; ok && status == msg.Status {
					continue
				}
				printed[msg.ID] = msg.Status
				marker := ""
				switch msg.Status {
				case chat.StatusSending:
					marker = " (sending)"
				case chat.StatusError:
					marker = " (failed: " + msg.SendError + ")"
				}
				fmt.Printf("[%s] %s: %s%s\n", msg.CreatedAt.Local().Format("15:04"), msg.Sender.Name, msg.Content, marker)
			}

			var names []string
			for _, entry := range snapshot.Typing {
				names = append(names, entry.Name)
			}
			typing := strings.Join(names, ", ")
			if typing != lastTyping {
				lastTyping = typing
				if typing != "" {
					fmt.Printf("* %s typing...\n", typing)
				}
			}
		}
	}
}
