// synapse - multiplayer Connections sessions for Discord
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/synapse/internal/api"
	"github.com/ernie/synapse/internal/auth"
	"github.com/ernie/synapse/internal/bot"
	"github.com/ernie/synapse/internal/chat"
	"github.com/ernie/synapse/internal/client"
	"github.com/ernie/synapse/internal/config"
	"github.com/ernie/synapse/internal/discord"
	"github.com/ernie/synapse/internal/domain"
	"github.com/ernie/synapse/internal/puzzle"
	"github.com/ernie/synapse/internal/render"
	"github.com/ernie/synapse/internal/session"
	"github.com/ernie/synapse/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/synapse/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "bot":
		cmdBot(os.Args[2:])
	case "results":
		cmdResults(os.Args[2:])
	case "recap":
		cmdRecap(os.Args[2:])
	case "sessions":
		cmdSessions(os.Args[2:])
	case "version":
		fmt.Printf("synapse %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: synapse <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                          Bootstrap a config file (prompts for bot token)")
	fmt.Println("  serve                         Start the session coordinator service")
	fmt.Println("  bot                           Start the chat bot (gateway, poller, recaps)")
	fmt.Println("  results --date D [--guild G]  Show recorded game results for a date")
	fmt.Println("  recap --date D --guild G      Print the ranked recap for a guild and date")
	fmt.Println("  sessions [--date D]           List active sessions from the store")
	fmt.Println("  version                       Show version")
	fmt.Println("  help                          Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/synapse/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  sudo synapse init")
	fmt.Println("  synapse serve --config ./config.yml")
	fmt.Println("  synapse results --date 2025-03-10")
}

func loadConfig(path string) *config.Config {
	if err := config.LoadDotenv(); err != nil {
		log.Printf("Warning: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// cmdServe starts the session coordinator
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	log.Printf("Synapse coordinator %s starting...", version)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	sessions := session.NewService(store)
	zone := domain.ReferenceZone(cfg.Recap.Offset())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sessions.Rehydrate(ctx, domain.Today(zone)); err != nil {
		log.Printf("Warning: failed to rehydrate sessions: %v", err)
	}

	puzzles := puzzle.NewCache(puzzle.NewHTTPProvider(cfg.Puzzle.ProviderURL))

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		log.Printf("Warning: No JWT secret configured. Service tokens will use an empty secret.")
	}

	oauth := api.OAuthConfig{
		ClientID:     cfg.Discord.ApplicationID,
		ClientSecret: cfg.Discord.ClientSecret,
		TokenURL:     cfg.Discord.APIBase + "/oauth2/token",
	}
	router := api.NewRouter(sessions, store, puzzles, authService, oauth)

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Fatalf("HTTP server error: %v", err)
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}

// cmdBot starts the chat-bot process
func cmdBot(args []string) {
	fs := flag.NewFlagSet("bot", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if cfg.Discord.BotToken == "" {
		log.Fatalf("No bot token configured. Set discord.bot_token or DISCORD_BOT_TOKEN.")
	}
	log.Printf("Synapse bot %s starting...", version)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	serviceToken, err := authService.GenerateToken("bot")
	if err != nil {
		log.Fatalf("Failed to generate service token: %v", err)
	}
	coordinator := client.New(cfg.Bot.ServerURL, serviceToken)

	rest := discord.NewREST(cfg.Discord.APIBase, cfg.Discord.BotToken)
	chain := chat.NewDeliveryChain(rest, cfg.Discord.ApplicationID)

	zone := domain.ReferenceZone(cfg.Recap.Offset())
	tracker := bot.NewTracker(cfg.Bot.RetirementGrace)
	rehydrateTracker(store, tracker, zone)

	scheduler := bot.NewScheduler(store, chain, cfg.Recap.Hour, cfg.Recap.Minute, zone)
	poller := bot.NewPoller(tracker, coordinator, store, chain, scheduler,
		cfg.Bot.PollInterval, cfg.Bot.SessionMaxAge)
	router := bot.NewRouter(coordinator, rest, chain, chain, tracker, zone, cfg.Discord.ApplicationID)
	gateway := discord.NewGateway(cfg.Discord.GatewayURL, cfg.Discord.BotToken,
		discord.IntentGuildMessages, router.Handle)

	scheduler.Start()
	poller.Start()
	gateway.Start()
	log.Printf("Bot started, polling every %v", cfg.Bot.PollInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down...", sig)

	gateway.Stop()
	poller.Stop()
	scheduler.Stop()
	log.Println("Shutdown complete")
}

// rehydrateTracker rebuilds the poll set from today's stored sessions
func rehydrateTracker(store *storage.Store, tracker *bot.Tracker, zone *time.Location) {
	today := domain.Today(zone)
	sessions, err := store.GetSessionsByDate(context.Background(), today)
	if err != nil {
		log.Printf("Warning: failed to load stored sessions: %v", err)
		return
	}
	for _, sess := range sessions {
		tracked := &bot.TrackedSession{
			SessionID: sess.SessionID,
			GuildID:   sess.GuildID,
			ChannelID: sess.ChannelID,
			GameDate:  sess.GameDate,
			Handle:    chat.Handle{ChannelID: sess.ChannelID, MessageID: sess.SessionID},
		}
		counts := make(map[string]int, len(sess.Players))
		for userID, p := range sess.Players {
			counts[userID] = p.LastGuessCount
		}
		tracked.SeedGuessCounts(counts)
		tracker.Track(tracked)
	}
	if len(sessions) > 0 {
		log.Printf("Restored %d active sessions for %s", len(sessions), today)
	}
}

// cmdInit bootstraps a config file, prompting for the bot token
func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	dbPath := fs.String("db", "/var/lib/synapse/synapse.db", "path to the sqlite database")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil {
		fmt.Printf("Synapse is already initialized (%s exists).\n", *configPath)
		fmt.Println("To re-initialize, remove the config file first.")
		return
	}

	fmt.Print("Discord bot token: ")
	token, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading token: %v\n", err)
		os.Exit(1)
	}

	fmt.Print("Application (activity) id: ")
	var appID string
	fmt.Scanln(&appID)

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating JWT secret: %v\n", err)
		os.Exit(1)
	}

	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: *dbPath},
		Discord: config.DiscordConfig{
			BotToken:      string(token),
			ApplicationID: appID,
		},
		Auth: config.AuthConfig{JWTSecret: hex.EncodeToString(secret)},
	}
	if err := config.Save(*configPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config: %s\n", *configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review the config file and adjust recap/bot settings")
	fmt.Println("  2. Start the coordinator: synapse serve")
	fmt.Println("  3. Start the bot: synapse bot")
}

func openStore(configPath string) (*storage.Store, *config.Config) {
	cfg := loadConfig(configPath)
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	return store, cfg
}

func cmdResults(args []string) {
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	date := fs.String("date", "", "game date (YYYY-MM-DD, default today)")
	guild := fs.String("guild", "", "guild id (required)")
	fs.Parse(args)

	store, cfg := openStore(*configPath)
	defer store.Close()

	zone := domain.ReferenceZone(cfg.Recap.Offset())
	gameDate := *date
	if gameDate == "" {
		gameDate = domain.Today(zone)
	}
	if *guild == "" {
		fmt.Fprintln(os.Stderr, "Error: --guild is required")
		os.Exit(1)
	}

	results, err := store.GetGameResults(context.Background(), *guild, gameDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Printf("No results for %s\n", gameDate)
		return
	}

	ranked := domain.RankResults(results)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tSCORE\tMISTAKES\tCOMPLETED")
	fmt.Fprintln(w, "----\t------\t-----\t--------\t---------")
	for i, res := range ranked {
		fmt.Fprintf(w, "%d\t%s\t%d/%d\t%d\t%s\n",
			i+1, res.Username, res.Score, domain.NumCategories, res.Mistakes,
			res.CompletedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func cmdRecap(args []string) {
	fs := flag.NewFlagSet("recap", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	date := fs.String("date", "", "game date (YYYY-MM-DD, default yesterday)")
	guild := fs.String("guild", "", "guild id (required)")
	fs.Parse(args)

	store, cfg := openStore(*configPath)
	defer store.Close()

	zone := domain.ReferenceZone(cfg.Recap.Offset())
	gameDate := *date
	if gameDate == "" {
		gameDate = domain.AddDays(domain.Today(zone), -1)
	}
	if *guild == "" {
		fmt.Fprintln(os.Stderr, "Error: --guild is required")
		os.Exit(1)
	}

	ctx := context.Background()
	results, err := store.GetGameResults(ctx, *guild, gameDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	players, err := store.GetGuildDatePlayers(ctx, *guild, gameDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	finished := make(map[string]bool, len(results))
	for _, res := range results {
		finished[res.UserID] = true
	}
	var starters []string
	for _, p := range players {
		if !finished[p.UserID] {
			starters = append(starters, p.Username)
		}
	}

	fmt.Println(render.RecapMessage(gameDate, results, starters))
}

func cmdSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	date := fs.String("date", "", "game date (YYYY-MM-DD, default today)")
	fs.Parse(args)

	store, cfg := openStore(*configPath)
	defer store.Close()

	zone := domain.ReferenceZone(cfg.Recap.Offset())
	gameDate := *date
	if gameDate == "" {
		gameDate = domain.Today(zone)
	}

	sessions, err := store.GetSessionsByDate(context.Background(), gameDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Printf("No active sessions for %s\n", gameDate)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tGUILD\tCHANNEL\tPLAYERS\tCOMPLETE\tLAST UPDATE")
	fmt.Fprintln(w, "-------\t-----\t-------\t-------\t--------\t-----------")
	for _, sess := range sessions {
		complete := "no"
		if sess.AllComplete() {
			complete = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			sess.SessionID, sess.GuildID, sess.ChannelID, len(sess.Players),
			complete, sess.LastUpdate.Format("2006-01-02 15:04"))
	}
	w.Flush()
}
