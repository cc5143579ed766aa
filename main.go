package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sgallard/parley/internal/api"
	"github.com/sgallard/parley/internal/config"
	"github.com/sgallard/parley/internal/models"
	"github.com/sgallard/parley/internal/session"
	"github.com/sgallard/parley/internal/storage"
	"github.com/sgallard/parley/internal/thinking"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}

func run() error {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := storage.Open()
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := api.NewClient(cfg.BaseURL, cfg.APIKey, log)
	if err != nil {
		return err
	}

	sess, err := session.New(client, session.Options{
		Model:     cfg.Model,
		PageSize:  cfg.PageSize,
		PollLimit: cfg.PollLimit,
		History:   db,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if lastOpen, err := db.LastOpen(); err == nil && lastOpen != "" {
		if err := sess.Open(ctx, lastOpen); err != nil {
			log.Warn("failed to resume conversation", "id", lastOpen, "error", err)
		}
	}

	ui := &console{sess: sess, out: os.Stdout}
	go ui.watch(ctx)

	fmt.Println("parley - type a message, or /help for commands")
	ui.printPrompt()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			ui.printPrompt()
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := ui.command(ctx, line, db)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			if quit {
				return nil
			}
			ui.printPrompt()
			continue
		}
		if err := sess.Submit(ctx, line, nil); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			ui.printPrompt()
		}
	}
	return scanner.Err()
}

// console renders session updates to a terminal. It tracks how much of the
// streaming assistant message has already been printed so each update only
// emits the trailing delta.
type console struct {
	sess *session.Session
	out  *os.File

	renderedID  string
	renderedLen int
	inReply     bool
}

func (c *console) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.sess.Updates():
			c.render()
		}
	}
}

func (c *console) render() {
	messages := c.sess.Messages()
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if last.Role != "assistant" {
		c.finishReply()
		return
	}

	text := last.Text()
	if last.ID != c.renderedID {
		c.finishReply()
		c.renderedID = last.ID
		c.renderedLen = 0
	}
	if len(text) > c.renderedLen {
		if !c.inReply {
			fmt.Fprint(c.out, "\nassistant: ")
			c.inReply = true
		}
		fmt.Fprint(c.out, text[c.renderedLen:])
		c.renderedLen = len(text)
	}
	if last.Status != models.MessageStatusStreaming && !c.sess.IsGenerating() {
		c.finishReply()
		if err := c.sess.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "\ngeneration failed:", err)
		}
		c.printPrompt()
	}
}

func (c *console) finishReply() {
	if c.inReply {
		fmt.Fprintln(c.out)
		c.inReply = false
	}
}

func (c *console) printPrompt() {
	fmt.Fprint(c.out, "> ")
}

func (c *console) command(ctx context.Context, line string, db *storage.DB) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(c.out, "/new            start a new conversation")
		fmt.Fprintln(c.out, "/open <id>      open a conversation")
		fmt.Fprintln(c.out, "/history        list recent conversations")
		fmt.Fprintln(c.out, "/older          load older messages")
		fmt.Fprintln(c.out, "/show           reprint the conversation")
		fmt.Fprintln(c.out, "/cancel         cancel the current response")
		fmt.Fprintln(c.out, "/quit           exit")
		return false, nil
	case "/new":
		c.renderedID = ""
		c.renderedLen = 0
		c.sess.NewChat()
		return false, nil
	case "/open":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /open <conversation-id>")
		}
		c.renderedID = ""
		c.renderedLen = 0
		if err := c.sess.Open(ctx, fields[1]); err != nil {
			return false, err
		}
		c.printConversation()
		return false, nil
	case "/history":
		records, err := db.ListConversations()
		if err != nil {
			return false, err
		}
		if len(records) == 0 {
			fmt.Fprintln(c.out, "no conversations yet")
			return false, nil
		}
		for _, record := range records {
			fmt.Fprintf(c.out, "%s  %s\n", record.ID, record.Title)
		}
		return false, nil
	case "/older":
		c.sess.LoadOlder(ctx)
		c.printConversation()
		return false, nil
	case "/show":
		c.printConversation()
		return false, nil
	case "/cancel":
		c.sess.Cancel()
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func (c *console) printConversation() {
	for _, message := range c.sess.Messages() {
		if message.Role == "assistant" {
			for _, segment := range thinking.Parse(message.Text(), message.Status != models.MessageStatusStreaming) {
				if segment.Type == models.SegmentTypeReasoning {
					fmt.Fprintf(c.out, "assistant (thinking): %s\n", segment.Text)
				} else {
					fmt.Fprintf(c.out, "assistant: %s\n", segment.Text)
				}
			}
			continue
		}
		fmt.Fprintf(c.out, "%s: %s\n", message.Role, message.Text())
	}
	if last := c.sess.Messages(); len(last) > 0 {
		c.renderedID = last[len(last)-1].ID
		c.renderedLen = len(last[len(last)-1].Text())
	}
}
