package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/flow/sessionstore"
	"goa.design/flow/sessionstore/inmem"
	ssmongo "goa.design/flow/sessionstore/mongo"
	ssredis "goa.design/flow/sessionstore/redis"
)

// storeFlags are shared by every subcommand that opens a session store.
type storeFlags struct {
	kind     string
	addr     string
	database string
}

// openStore builds the sessionstore.Store named by f.kind ("memory" by
// default, or "redis"/"mongo" against the given addr/database).
func openStore(ctx context.Context, f storeFlags) (sessionstore.Store, error) {
	switch f.kind {
	case "", "memory":
		return inmem.New(), nil
	case "redis":
		if f.addr == "" {
			return nil, fmt.Errorf("flowctl: --store-addr is required for --store redis")
		}
		client := goredis.NewClient(&goredis.Options{Addr: f.addr})
		return ssredis.New(client, ssredis.DefaultConfig()), nil
	case "mongo":
		if f.addr == "" {
			return nil, fmt.Errorf("flowctl: --store-addr is required for --store mongo")
		}
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(f.addr))
		if err != nil {
			return nil, fmt.Errorf("flowctl: connect mongo: %w", err)
		}
		database := f.database
		if database == "" {
			database = "flow"
		}
		return ssmongo.New(ctx, ssmongo.Options{Client: client, Database: database})
	default:
		return nil, fmt.Errorf("flowctl: unknown store kind %q (want memory, redis, or mongo)", f.kind)
	}
}
