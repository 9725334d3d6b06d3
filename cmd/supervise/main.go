package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lestrrat-go/supervisor/internal/cli"
)

func main() {
	os.Exit(_main())
}

func _main() int {
	if err := cli.New().Run(context.Background(), os.Args[1:]...); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		return 1
	}
	return 0
}
