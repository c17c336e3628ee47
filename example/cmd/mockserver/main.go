// Standalone mock fleet feed for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/mapboard serve -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/mapboard/example/fleet"
)

func main() {
	fmt.Println("Mock fleet feed starting on :9999")
	fmt.Println("  /tuples, /depots?region=<name>, /alerts")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	feed := fleet.New(20, -0.1276, 51.5072, time.Now().UnixNano())
	if err := http.ListenAndServe(":9999", feed.Handler()); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
