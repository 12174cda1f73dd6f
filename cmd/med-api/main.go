package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"
)

func main() {
	// .env опционален, в контейнере конфиг приходит через окружение
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file", "error", err.Error())
	}

	app := mustBootstrapMedAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}
