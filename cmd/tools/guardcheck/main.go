// guardcheck runs a single moderation pass over a transcript file, for
// offline diagnosis of verdicts and rule behavior.
//
// Usage:
//
//	guardcheck -transcript conversation.json [-pending "candidate reply"] [-rules rules.txt]
//
// The transcript file holds {"messages": [{"role": ..., "content": ...}]}.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/omniguard-ai/omniguard/internal/config"
	"github.com/omniguard-ai/omniguard/internal/model/conversation"
	"github.com/omniguard-ai/omniguard/internal/model/rules"
	"github.com/omniguard-ai/omniguard/internal/service/moderation"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] could not load .env, using system environment: %v", err)
	}

	transcriptPath := flag.String("transcript", "", "path to the transcript JSON file")
	pending := flag.String("pending", "", "candidate assistant response to evaluate (pass 2)")
	rulesPath := flag.String("rules", "", "rules file overriding the seeded configuration")
	timeout := flag.Duration("timeout", 60*time.Second, "request timeout")

	flag.Parse()

	if *transcriptPath == "" {
		flag.Usage()
		log.Fatal("specify a transcript with -transcript")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if !cfg.Guard.Enabled() {
		log.Fatal("guard models not configured: set ARK_API_KEY (or AK/SK) plus GUARD_MODERATION_MODEL and GUARD_AGENT_MODEL")
	}

	rulesText := rules.Default()
	if *rulesPath != "" {
		provider, err := rules.FromFile(*rulesPath)
		if err != nil {
			log.Fatalf("failed to load rules: %v", err)
		}
		rulesText = provider.Current()
	}

	conv, err := loadTranscript(*transcriptPath, cfg.Guard.AgentPrompt)
	if err != nil {
		log.Fatalf("failed to load transcript: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	chatModel, err := cfg.Guard.NewChatModel(ctx, cfg.Guard.ModerationModel)
	if err != nil {
		log.Fatalf("failed to create moderation model: %v", err)
	}
	client, err := moderation.NewClient(ctx, chatModel)
	if err != nil {
		log.Fatalf("failed to initialize moderation client: %v", err)
	}

	req := moderation.BuildRequest(conv, rulesText, *pending)
	result, err := client.Evaluate(ctx, req)
	if err != nil {
		log.Fatalf("evaluation failed: %v", err)
	}

	fmt.Printf("schema_violation: %t\n", result.SchemaViolation)
	if result.Parsed != nil {
		pretty, _ := json.MarshalIndent(result.Parsed, "", "  ")
		fmt.Printf("verdict:\n%s\n", pretty)
	} else {
		fmt.Printf("raw output:\n%s\n", result.RawText)
	}
}

func loadTranscript(path, agentPrompt string) (*conversation.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid transcript JSON: %w", err)
	}
	if len(payload.Messages) == 0 {
		return nil, fmt.Errorf("transcript has no messages")
	}

	conv := conversation.New(agentPrompt)
	for _, msg := range payload.Messages {
		if err := conv.Append(conversation.Role(msg.Role), msg.Content); err != nil {
			return nil, err
		}
	}
	return conv, nil
}
