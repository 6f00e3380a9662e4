package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/craig/cmd/craig/internal"
	"github.com/tinyland-inc/craig/pkg/agent"
	"github.com/tinyland-inc/craig/pkg/bus"
	"github.com/tinyland-inc/craig/pkg/logger"
	"github.com/tinyland-inc/craig/pkg/metering"
	"github.com/tinyland-inc/craig/pkg/providers"
)

const (
	cliChannel = "cli"
	cliChatID  = "direct"
	cliUserID  = "you"
)

func agentCmd(message, model string, debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	if model != "" {
		cfg.AI.Model = model
	}

	provider, modelID, err := providers.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("error creating provider: %w", err)
	}

	responder := agent.NewResponder(nil, provider, nil, metering.NewMeterStore(), agent.Options{
		Model:        modelID,
		MaxTokens:    cfg.AI.MaxTokens,
		Temperature:  cfg.AI.Temperature,
		HistoryLimit: cfg.AI.HistoryLimit,
		BotName:      cfg.AI.BotName,
	})
	session := newChatSession(responder, cfg.AI.BotName, cfg.AI.HistoryLimit)

	logger.InfoCF("agent", "Agent initialized", map[string]any{
		"model": modelID,
	})

	if message != "" {
		response, err := session.send(context.Background(), message)
		if err != nil {
			return fmt.Errorf("error processing message: %w", err)
		}
		fmt.Printf("\n%s %s\n", internal.Logo, response)
		return nil
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", internal.Logo)
	interactiveMode(session)

	return nil
}

// chatSession keeps a terminal conversation the way a chat channel would:
// a sliding window of the most recent messages, both sides included.
type chatSession struct {
	responder *agent.Responder
	prompt    string
	limit     int
	entries   []bus.HistoryEntry
}

func newChatSession(responder *agent.Responder, botName string, limit int) *chatSession {
	if botName == "" {
		botName = "Craig"
	}
	if limit <= 0 {
		limit = 5
	}
	return &chatSession{
		responder: responder,
		prompt:    agent.BuildSystemPrompt(botName, ""),
		limit:     limit,
	}
}

func (s *chatSession) send(ctx context.Context, input string) (string, error) {
	s.entries = append(s.entries, bus.HistoryEntry{UserID: cliUserID, Text: input})

	window := s.entries
	if len(window) > s.limit {
		window = window[len(window)-s.limit:]
	}

	reply, err := s.responder.Chat(ctx, cliChannel, cliChatID, s.prompt, agent.FormatHistory(window))
	if err != nil {
		return "", err
	}

	s.entries = append(s.entries, bus.HistoryEntry{Text: reply, IsBot: true})
	if len(s.entries) > s.limit {
		s.entries = s.entries[len(s.entries)-s.limit:]
	}
	return reply, nil
}

func interactiveMode(session *chatSession) {
	prompt := fmt.Sprintf("%s You: ", internal.Logo)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".craig_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(session, os.Stdin)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if !handleLine(session, line) {
			return
		}
	}
}

func simpleInteractiveMode(session *chatSession, in io.Reader) {
	reader := bufio.NewReader(in)
	for {
		fmt.Printf("%s You: ", internal.Logo)
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if !handleLine(session, line) {
			return
		}
	}
}

// handleLine answers one line of input. It returns false when the user
// asked to leave.
func handleLine(session *chatSession, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return false
	}

	response, err := session.send(context.Background(), input)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return true
	}

	fmt.Printf("\n%s %s\n\n", internal.Logo, response)
	return true
}
