// ABOUTME: CLI for the pulse-chat assistant client
// ABOUTME: Streams answers to the terminal and manages conversations and feedback

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/pulse-chat/internal/api"
	"github.com/2389/pulse-chat/internal/cache"
	"github.com/2389/pulse-chat/internal/config"
	"github.com/2389/pulse-chat/internal/convo"
	"github.com/2389/pulse-chat/internal/prompts"
	"github.com/2389/pulse-chat/internal/store"
	"github.com/2389/pulse-chat/internal/stream"
	"github.com/2389/pulse-chat/internal/threads"
)

const banner = `
             _                  _           _
 _ __  _   _| |___  ___        | |__   __ _| |_
| '_ \| | | | / __|/ _ \_____  | '_ \ / _' | __|
| |_) | |_| | \__ \  __/_____| | | | | (_| | |_
| .__/ \__,_|_|___/\___|       |_| |_|\__,_|\__|
|_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	app, err := newApp(cfg)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	switch cmd {
	case "send":
		err = app.cmdSend(args)
	case "chat":
		err = app.cmdChat(args)
	case "threads":
		err = app.cmdThreads(args)
	case "show":
		err = app.cmdShow(args)
	case "search":
		err = app.cmdSearch(args)
	case "feedback":
		err = app.cmdFeedback(args)
	case "delete":
		err = app.cmdDelete(args)
	case "prompts":
		err = app.cmdPrompts(args)
	case "retry-titles":
		err = app.cmdRetryTitles(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: pulse-chat <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  send <message>            Send a message in the latest conversation")
	fmt.Println("  send --new <message>      Send a message in a fresh conversation")
	fmt.Println("  send --prompt <id>        Send a predefined prompt")
	fmt.Println("  chat                      Interactive chat (Ctrl+D to exit)")
	fmt.Println("  threads                   List conversations grouped by recency")
	fmt.Println("  show <id>                 Show a conversation with its messages")
	fmt.Println("  search <query>            Search conversations")
	fmt.Println("  feedback <id> <chat> <up|down>  Record feedback on an answer")
	fmt.Println("  delete <id>               Delete a conversation")
	fmt.Println("  prompts                   List predefined prompts for your domain")
	fmt.Println("  retry-titles              Re-attempt queued conversation titles")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  PULSE_CONFIG              Config file path (default: ~/.config/pulse/chat.yaml)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  pulse-chat send \"How many leave days do I have left?\"")
	fmt.Println("  pulse-chat send --prompt leave-balance")
	fmt.Println("  pulse-chat threads")
	fmt.Println()
}

func configPath() string {
	if path := os.Getenv("PULSE_CONFIG"); path != "" {
		return path
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "pulse", "chat.yaml")
}

// app wires the client stack behind the subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	client *api.Client
	local  *store.SQLiteStore
	cache  *cache.Cache
	coord  *convo.Coordinator
}

func newApp(cfg *config.Config) (*app, error) {
	logger := setupLogger(cfg.Logging)

	local, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	ttl := cfg.Cache.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	maxEntries := cfg.Cache.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 128
	}
	ca := cache.New(ttl, maxEntries)

	httpTimeout := cfg.API.RequestTimeout
	if httpTimeout <= 0 {
		httpTimeout = 30 * time.Second
	}
	client := api.NewClient(api.ClientOptions{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: &http.Client{Timeout: httpTimeout},
		Tokens:     tokenSource(cfg.Auth),
		Logger:     logger,
		MaxRetries: cfg.API.MaxRetries,
	})

	engine := stream.New(stream.Options{
		WordDelay:  cfg.Stream.WordDelay,
		ShortLimit: cfg.Stream.ShortLimit,
		Logger:     logger,
	})

	coord := convo.New(convo.Config{
		Remote:   client,
		Local:    local,
		Cache:    ca,
		Engine:   engine,
		Logger:   logger,
		UserID:   cfg.User.ID,
		DomainID: cfg.API.DomainID,
	})
	if err := coord.Init(context.Background()); err != nil {
		local.Close()
		ca.Close()
		return nil, fmt.Errorf("initializing coordinator: %w", err)
	}

	return &app{cfg: cfg, logger: logger, client: client, local: local, cache: ca, coord: coord}, nil
}

func (a *app) close() {
	a.coord.Close()
	a.cache.Close()
	if err := a.local.Close(); err != nil {
		a.logger.Warn("closing local store", "error", err)
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// tokenSource builds the bearer-token source: a static token when one is
// configured, otherwise a caching source around the token endpoint.
func tokenSource(cfg config.AuthConfig) api.TokenSource {
	if cfg.Token != "" {
		return api.NewStaticTokenSource(cfg.Token)
	}
	return api.NewCachingTokenSource(func(ctx context.Context) (string, error) {
		payload, err := json.Marshal(map[string]string{
			"client_id":     cfg.ClientID,
			"client_secret": cfg.ClientSecret,
		})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenEndpoint, bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
		}

		var body struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", err
		}
		if body.AccessToken == "" {
			return "", fmt.Errorf("token endpoint returned no access_token")
		}
		return body.AccessToken, nil
	})
}

// cmdSend sends one message, streaming the answer to the terminal.
func (a *app) cmdSend(args []string) error {
	fresh := false
	if len(args) > 0 && args[0] == "--new" {
		fresh = true
		args = args[1:]
	}

	text, predefined, err := a.resolveMessage(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if !fresh {
		a.restoreActive(ctx)
	}
	return a.sendOne(ctx, text, predefined)
}

// restoreActive continues the most recent conversation; without it every CLI
// invocation would start a new one.
func (a *app) restoreActive(ctx context.Context) {
	if a.coord.ActiveID() != "" {
		return
	}
	if convs, err := a.local.ListConversations(ctx); err == nil && len(convs) > 0 {
		a.coord.SetActive(convs[0].ID)
	}
}

// cmdChat runs an interactive read-eval-print loop.
func (a *app) cmdChat(args []string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	cyan.Printf("Chatting with the %s assistant (Ctrl+D to exit)\n\n", a.cfg.API.DomainID)
	a.restoreActive(context.Background())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024)
	for {
		green.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := a.sendOne(context.Background(), line, false); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		fmt.Println()
	}
}

func (a *app) resolveMessage(args []string) (text string, predefined bool, err error) {
	if len(args) >= 2 && args[0] == "--prompt" {
		catalog, err := a.loadPrompts()
		if err != nil {
			return "", false, err
		}
		p, ok := catalog.Find(args[1])
		if !ok {
			return "", false, fmt.Errorf("unknown prompt %q (see: pulse-chat prompts)", args[1])
		}
		return p.Text, true, nil
	}
	if len(args) == 0 {
		return "", false, fmt.Errorf("usage: send <message> | send --prompt <id>")
	}
	return strings.Join(args, " "), false, nil
}

func (a *app) sendOne(ctx context.Context, text string, predefined bool) error {
	dim := color.New(color.Faint)
	yellow := color.New(color.FgYellow)

	res, err := a.coord.Send(ctx, text, predefined, func(token, cleaned string) {
		fmt.Print(token)
	})
	if err != nil {
		return err
	}
	fmt.Println()

	switch res.Class {
	case stream.ClassHandoff:
		yellow.Println("\nHanding you over to a live agent.")
	case stream.ClassError:
		if res.Substitute {
			// Nothing streamed; the substitute is the whole answer.
			fmt.Println(res.Text)
		}
	}

	if len(res.Links) > 0 {
		fmt.Println()
		dim.Println("References:")
		for _, link := range res.Links {
			dim.Printf("  %s  %s\n", link.Title, link.URL)
		}
	}
	return nil
}

// cmdThreads prints the sidebar view: conversations bucketed by recency.
func (a *app) cmdThreads(args []string) error {
	list, err := a.coord.ThreadList(context.Background())
	if err != nil {
		return err
	}

	sections := []struct {
		name    string
		threads []threads.Thread
	}{
		{"Today", list.Today},
		{"Yesterday", list.Yesterday},
		{"Last week", list.LastWeek},
		{"Last 30 days", list.Last30Days},
	}

	cyan := color.New(color.FgCyan)
	empty := true
	for _, section := range sections {
		if len(section.threads) == 0 {
			continue
		}
		empty = false
		fmt.Println()
		cyan.Printf("  %s\n", section.name)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, th := range section.threads {
			fmt.Fprintf(w, "  %s\t%s\n", th.ID, th.Title)
		}
		w.Flush()
	}
	if empty {
		fmt.Println("No conversations yet.")
		return nil
	}
	fmt.Println()
	return nil
}

// cmdShow prints one conversation with its messages.
func (a *app) cmdShow(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: show <conversation-id>")
	}

	view, err := a.coord.LoadConversation(context.Background(), args[0])
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	dim := color.New(color.Faint)

	fmt.Println()
	cyan.Printf("  %s\n", view.Title)
	if !view.Synced {
		dim.Println("  (local copy, not yet synced)")
	}
	fmt.Println()
	for _, msg := range view.Messages {
		if msg.Role == store.RoleUser {
			green.Printf("> %s\n", msg.Content)
			continue
		}
		fmt.Println(msg.Content)
		if msg.Feedback != "" {
			dim.Printf("  [feedback: %s, chat %s]\n", msg.Feedback, msg.ChatID)
		} else {
			dim.Printf("  [chat %s]\n", msg.ChatID)
		}
		fmt.Println()
	}
	return nil
}

// cmdSearch queries the remote store for matching conversations.
func (a *app) cmdSearch(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: search <query>")
	}
	query := strings.Join(args, " ")

	convs, err := a.client.SearchConversations(context.Background(), a.cfg.User.ID, query)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, conv := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", conv.ID, conv.Title, conv.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// cmdFeedback records like/dislike on an answer.
func (a *app) cmdFeedback(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: feedback <conversation-id> <chat-id> <up|down>")
	}
	feedback := args[2]
	if feedback != store.FeedbackUp && feedback != store.FeedbackDown {
		return fmt.Errorf("feedback must be %s or %s", store.FeedbackUp, store.FeedbackDown)
	}

	if err := a.coord.UpdateFeedback(context.Background(), args[0], args[1], "", feedback); err != nil {
		return err
	}
	color.Green("Feedback recorded.")
	return nil
}

// cmdDelete removes a conversation.
func (a *app) cmdDelete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: delete <conversation-id>")
	}

	next, err := a.coord.DeleteConversation(context.Background(), args[0])
	if err != nil {
		return err
	}
	color.Green("Deleted.")
	if next != "" {
		fmt.Printf("Active conversation: %s\n", next)
	}
	return nil
}

// cmdPrompts lists the predefined prompts for the configured domain.
func (a *app) cmdPrompts(args []string) error {
	catalog, err := a.loadPrompts()
	if err != nil {
		return err
	}

	domainPrompts := catalog.ForDomain(a.cfg.API.DomainID)
	if len(domainPrompts) == 0 {
		fmt.Println("No prompts configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, p := range domainPrompts {
		label := p.Label
		if label == "" {
			label = p.Text
		}
		fmt.Fprintf(w, "%s\t%s\n", p.ID, label)
	}
	return w.Flush()
}

// cmdRetryTitles re-attempts queued conversation title writes.
func (a *app) cmdRetryTitles(args []string) error {
	if err := a.coord.RetryPendingTitles(context.Background()); err != nil {
		return err
	}
	color.Green("Pending titles retried.")
	return nil
}

func (a *app) loadPrompts() (*prompts.Catalog, error) {
	path := a.cfg.Prompts.Path
	if path == "" {
		return nil, fmt.Errorf("prompts.path is not configured")
	}
	return prompts.Load(path)
}
