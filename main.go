// Package main is the entry point of the loadrun binary.
package main

import (
	"context"

	_ "golang.org/x/crypto/x509roots/fallback" // CA bundle for minimal containers

	"github.com/liuxd6825/loadrun/cmd"
	"github.com/liuxd6825/loadrun/cmd/state"
)

func main() {
	cmd.ExecuteWithGlobalState(state.NewGlobalState(context.Background()))
}
