// Command kvprobe checks that a Redis server honors the documented semantics of the
// commands the probe relies on. It prints one header and one elapsed-time line per
// scenario and exits non-zero at the first violation.
//
// Usage:
//
//	kvprobe [flags] <port>
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	log "log/slog"

	"github.com/sharedcode/kvprobe"
	"github.com/sharedcode/kvprobe/inmemory"
	"github.com/sharedcode/kvprobe/redis"
	"github.com/sharedcode/kvprobe/scenario"
	"github.com/sharedcode/kvprobe/ttl"
)

const (
	exitAssertion = 1
	exitSetup     = 2
)

// options are the command line flags layered over the config file.
type options struct {
	configPath string
	host       string
	url        string
	store      string
	seed       uint64
	shuffles   int
	dense      int
	existing   int
	absent     int
	bulk       int
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Path to a YAML config file")
	fs.StringVar(&o.host, "host", "localhost", "Host of the Redis server")
	fs.StringVar(&o.url, "url", "", "Redis URL; overrides host, port and the config file address")
	fs.StringVar(&o.store, "store", "", "Store to probe: redis or memory (default from config, else redis)")
	fs.Uint64Var(&o.seed, "seed", 0, "Shuffle seed; 0 picks a random one")
	fs.IntVar(&o.shuffles, "shuffles", 0, "Shuffle iterations per ordering check (default from config)")
	fs.IntVar(&o.dense, "dense", 0, "Key count of the dense ordering check (default from config)")
	fs.IntVar(&o.existing, "existing", 0, "Existing key count of the mixed ordering checks (default from config)")
	fs.IntVar(&o.absent, "absent", 0, "Absent key count of the mixed ordering checks (default from config)")
	fs.IntVar(&o.bulk, "bulk", 0, "Key count of the conditional TTL checks at scale (default from config)")
}

// apply overrides cfg with the flags that were given on the command line, including
// explicit zeros.
func (o *options) apply(fs *flag.FlagSet, cfg *kvprobe.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "store":
			cfg.Store = kvprobe.StoreType(o.store)
		case "url":
			cfg.Redis.URL = o.url
		case "seed":
			cfg.Scenarios.Seed = o.seed
		case "shuffles":
			cfg.Scenarios.Shuffles = o.shuffles
		case "dense":
			cfg.Scenarios.DenseKeys = o.dense
		case "existing":
			cfg.Scenarios.Existing = o.existing
		case "absent":
			cfg.Scenarios.Absent = o.absent
		case "bulk":
			cfg.Scenarios.BulkKeys = o.bulk
		}
	})
}

func main() {
	var o options
	o.register(flag.CommandLine)
	flag.Parse()

	kvprobe.ConfigureLogging(os.Stderr)

	cfg, err := kvprobe.LoadConfig(o.configPath)
	if err != nil {
		fail(kvprobe.Setup(err))
	}
	o.apply(flag.CommandLine, cfg)
	if err := cfg.Validate(); err != nil {
		fail(kvprobe.Setup(err))
	}

	ctx := context.Background()
	store, conn, err := openStore(ctx, cfg, o.host, flag.Arg(0))
	if err != nil {
		fail(kvprobe.Setup(err))
	}
	defer store.Close()

	e := scenario.NewEngine(store, os.Stdout, cfg.Scenarios.Seed)
	fmt.Printf("seed %d\n", e.Seed())
	_, err = e.Run(ctx, scenario.Default(cfg.Scenarios))
	if conn != nil && conn.HasRestarted() {
		log.Warn("Redis restarted during the run; results are not trustworthy", "run_id", conn.RunID())
	}
	if err != nil {
		store.Close()
		fail(err)
	}
}

// openStore connects to the configured store. For Redis, the port comes from the
// positional argument unless a URL or a config file address is configured.
func openStore(ctx context.Context, cfg *kvprobe.Config, host, portArg string) (kvprobe.Store, *redis.Connection, error) {
	if cfg.Store == kvprobe.MemoryStore {
		fmt.Println("memory://")
		s := inmemory.NewStore()
		ttl.Emulate(s)
		return s, nil, nil
	}

	var conn *redis.Connection
	var err error
	switch {
	case cfg.Redis.URL != "":
		conn, err = redis.OpenConnectionWithURL(ctx, cfg.Redis.URL)
	case portArg == "" && cfg.Redis.Address != "":
		options := redis.Options{Address: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		conn, err = redis.OpenConnection(ctx, options)
	default:
		port, perr := kvprobe.ParsePort(portArg)
		if perr != nil {
			return nil, nil, perr
		}
		options := redis.Options{
			Address:  net.JoinHostPort(host, strconv.Itoa(int(port))),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		conn, err = redis.OpenConnection(ctx, options)
	}
	if err != nil {
		return nil, nil, err
	}
	fmt.Println(conn.Options.URL())
	return redis.NewClient(conn), conn, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "kvprobe: %v\n", err)
	if kvprobe.IsAssertion(err) {
		os.Exit(exitAssertion)
	}
	os.Exit(exitSetup)
}
