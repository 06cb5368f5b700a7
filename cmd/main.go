package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"booksearch-agent/handler"
	"booksearch-agent/internal/integrations/openai"
	"booksearch-agent/internal/integrations/paramstore"
	"booksearch-agent/internal/integrations/search"
	"booksearch-agent/internal/repository"
	"booksearch-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// Local runs keep their settings in .env; in Lambda this is a no-op.
	_ = godotenv.Load()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	searchEndpoint := mustEnv("SEARCH_ENDPOINT")
	indexPrefix := envStr("INDEX_PREFIX", "classic-")
	maxContextItems := envInt("MAX_CONTEXT_ITEMS", 20)
	maxContentLen := envInt("MAX_CONTENT_LENGTH", 2000)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	stateClient, err := repository.New(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	searchClient, err := search.NewClient(ssmClient, paramPrefix, searchEndpoint)
	if err != nil {
		slog.Error("failed to create search client", "err", err)
		os.Exit(1)
	}

	// ---- Services ----
	extractService, err := usecase.NewExtractService(ssmClient, openaiClient, stateClient, paramPrefix, maxContextItems, maxContentLen)
	if err != nil {
		slog.Error("failed to create extract service", "err", err)
		os.Exit(1)
	}
	searchService, err := usecase.NewSearchService(extractService, searchClient, indexPrefix)
	if err != nil {
		slog.Error("failed to create search service", "err", err)
		os.Exit(1)
	}
	turnService, err := usecase.NewTurnService(stateClient, maxContentLen)
	if err != nil {
		slog.Error("failed to create turn service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(extractService, searchService, turnService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
