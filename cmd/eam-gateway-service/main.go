package main

import (
	"context"
	"fmt"
	"os"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/bootstrap"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/contextkeys"
)

func main() {
	// Root context for the application lifecycle.
	ctx := context.Background()
	ctx = context.WithValue(ctx, contextkeys.RequestIDKey, "app-main")

	// Initialize the application using the Wire-generated injector.
	app, cleanup, err := bootstrap.InitializeApp(ctx)
	if err != nil {
		// A very basic log if bootstrap fails, as the main logger isn't available.
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := app.Run(ctx); err != nil {
		fmt.Printf("Application run failed: %v\n", err)
		os.Exit(1)
	}
}
