package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
