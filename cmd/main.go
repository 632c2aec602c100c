package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"pizzeria-bot/handler"
	"pizzeria-bot/internal/integrations/openai"
	"pizzeria-bot/internal/integrations/paramstore"
	"pizzeria-bot/internal/integrations/twilio"
	"pizzeria-bot/internal/repository"
	"pizzeria-bot/internal/usecase"
)

func main() {
	ctx := context.Background()

	// Local runs read a .env; in Lambda the environment is the environment.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}

	// ---- Configuration (read only here) ----
	sessionTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	ordersTable := os.Getenv("ORDERS_TABLE")
	temperature := envFloat("MODEL_TEMPERATURE", 0.5)

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
	sessionClient, err := repository.NewSessionClient(dynamoClient, sessionTable)
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}
	orderClient, err := repository.NewOrderClient(dynamoClient, ordersTable)
	if err != nil {
		slog.Error("failed to create order sink", "err", err)
		os.Exit(1)
	}
	if !orderClient.Enabled() {
		slog.Warn("ORDERS_TABLE not set, order persistence disabled")
	}

	llmOpts := []openai.Option{}
	if baseURL := os.Getenv("GROQ_BASE_URL"); baseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(baseURL))
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		llmOpts = append(llmOpts, openai.WithStaticAPIKey(key))
	}
	llmClient, err := openai.NewClient(ssmClient, paramPrefix, llmOpts...)
	if err != nil {
		slog.Error("failed to create LLM client", "err", err)
		os.Exit(1)
	}

	// Outbound push is optional: without the full credential trio the
	// webhook answers synchronously instead.
	var pusher handler.Pusher
	sid, token, from := os.Getenv("TWILIO_ACCOUNT_SID"), os.Getenv("TWILIO_AUTH_TOKEN"), os.Getenv("TWILIO_FROM")
	if sid != "" && token != "" && from != "" {
		pushClient, err := twilio.NewClient(sid, token, from)
		if err != nil {
			slog.Error("failed to create push client", "err", err)
			os.Exit(1)
		}
		pusher = pushClient
	} else {
		slog.Info("push credentials not configured, replying synchronously")
	}

	// ---- Service & handler ----
	dialogue, err := usecase.NewDialogueService(ssmClient, llmClient, sessionClient, orderClient, usecase.DialogueConfig{
		ParamPrefix: paramPrefix,
		Temperature: temperature,
	}, slog.Default())
	if err != nil {
		slog.Error("failed to create dialogue service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(dialogue, pusher, slog.Default())
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		lambda.Start(h.Handle)
		return
	}

	runLocalServer(h)
}

// runLocalServer serves the webhook over plain HTTP for development and
// self-hosted deployments.
func runLocalServer(h *handler.Handler) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5000"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("webhook listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
