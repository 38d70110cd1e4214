package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lifeline/internal/apitest"
	"lifeline/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadMockConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	backend := apitest.New(apitest.Options{
		Secret:    cfg.MockAPISecret,
		Logger:    &logger,
		Locale:    cfg.Locale,
		RateLimit: 600,
	})
	if os.Getenv("MOCK_API_EMPTY") == "" {
		seed(backend)
		logger.Info().Str("password", demoPassword).Msg("seeded demo accounts admin@lifeline.test, volunteer@lifeline.test, donor@lifeline.test")
	}

	server := infra.NewHTTPServer(cfg, backend.Handler())

	go func() {
		logger.Info().Msgf("mock API listening on %s", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
