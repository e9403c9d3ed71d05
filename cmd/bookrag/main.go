// Command bookrag indexes books into a per-author vector store and answers
// questions about them. It provides a CLI (via Cobra) for ingestion and
// one-shot queries, plus an HTTP server with a REST/SSE API.
package main

import (
	"fmt"
	"os"

	"github.com/bookwise/bookrag-go/cmd/bookrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
