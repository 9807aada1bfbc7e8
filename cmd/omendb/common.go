package main

import (
	"context"

	"github.com/omendb/omen-sub000/pkg/ignite"
	"github.com/omendb/omen-sub000/pkg/options"
)

func openStore(ctx context.Context) (*ignite.Instance, error) {
	return ignite.Open(ctx, "omendb-cli", options.WithDataDir(dataDir))
}
