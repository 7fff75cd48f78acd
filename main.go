package main

import (
	"context"
	"log"
	"os"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
