package main

import (
	"os"

	"github.com/egehanasal/apidouble/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
