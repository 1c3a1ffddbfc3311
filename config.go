package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adhocore/gronx"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"gitlab.com/zephyrtronium/pick"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
	"golang.org/x/time/rate"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/pollbot/channel"
)

// Load loads the bot's TOML configuration and fills defaults.
func Load(ctx context.Context, r io.Reader) (*Config, *toml.MetaData, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	expandcfg(&cfg, os.Getenv)
	if !md.IsDefined("discord", "prefix") {
		cfg.Discord.Prefix = "!"
	}
	if cfg.Polls.Sweep == "" {
		cfg.Polls.Sweep = "* * * * *"
	}
	if !gronx.New().IsValid(cfg.Polls.Sweep) {
		return nil, nil, fmt.Errorf("invalid sweep schedule %q", cfg.Polls.Sweep)
	}
	if cfg.Polls.Resend <= 0 {
		cfg.Polls.Resend = 10
	}
	for nm, s := range cfg.Servers {
		if s.ID == "" {
			return nil, nil, fmt.Errorf("servers.%s has no id", nm)
		}
	}
	if u := md.Undecoded(); len(u) != 0 {
		slog.WarnContext(ctx, "unknown config keys", slog.Any("keys", u))
	}
	return &cfg, &md, nil
}

// Config is the marshaled structure of the bot's configuration.
type Config struct {
	// SecretFile is the path to a file containing a secret key from which
	// the key for voter tags is derived.
	SecretFile string `toml:"secret"`
	// Owner is the table of metadata about the owner.
	Owner Owner `toml:"owner"`
	// DB is the table of database locations.
	DB DBCfg `toml:"db"`
	// Discord is the configuration for connecting to Discord.
	Discord DiscordCfg `toml:"discord"`
	// HTTP is the configuration of the HTTP API.
	HTTP HTTPCfg `toml:"http"`
	// Polls is the configuration of poll timing.
	Polls PollsCfg `toml:"polls"`
	// Global is the table of settings applied to every server.
	Global Global `toml:"global"`
	// Servers is the set of server configurations by an arbitrary name.
	Servers map[string]*ServerCfg `toml:"servers"`
}

// Owner is metadata about the bot owner.
type Owner struct {
	// Name is the name of the owner. It does not need to be a username.
	Name string `toml:"name"`
	// Contact describes owner contact information.
	Contact string `toml:"contact"`
	// ID is the owner's Discord user ID. The owner passes every admin
	// requirement.
	ID string `toml:"id"`
}

// DBCfg is the configuration of databases.
type DBCfg struct {
	// Store is the directory of the document store. If empty, documents
	// are kept in memory and lost on exit.
	Store string `toml:"store"`
	// KVFlag is a badger super flag applied to the document store.
	KVFlag string `toml:"kvflag"`
	// Audit is the SQLite DSN of the audit log.
	Audit string `toml:"audit"`
	// Privacy is the SQLite DSN of the privacy list. It may equal Audit.
	Privacy string `toml:"privacy"`
}

// DiscordCfg is the configuration for Discord.
type DiscordCfg struct {
	// TokenFile is the path to a file containing the bot token.
	TokenFile string `toml:"token"`
	// Prefix is the text prefix for commands, in addition to mentions.
	// Defaults to "!". An explicitly empty prefix disables it.
	Prefix string `toml:"prefix"`
	// Rate is the global limit on requests which send or change messages.
	Rate Rate `toml:"rate"`
}

// HTTPCfg is the configuration of the HTTP API.
type HTTPCfg struct {
	Listen string `toml:"listen"`
}

// PollsCfg is the configuration of poll timing.
type PollsCfg struct {
	// Sweep is the cron expression for tallying closed polls.
	Sweep string `toml:"sweep"`
	// TallyDelay is the time in seconds after a poll closes before a
	// delete-on-close poll is deleted.
	TallyDelay float64 `toml:"tally_delay"`
	// Resend is the minimum time in seconds between ballots sent to the
	// same user for the same poll.
	Resend float64 `toml:"resend"`
}

// Global is the configuration for globally applied options.
type Global struct {
	// Emotes is the emotes and their weights to use everywhere.
	Emotes map[string]int `toml:"emotes"`
}

// ServerCfg is the configuration for a server.
type ServerCfg struct {
	// ID is the server's ID.
	ID string `toml:"id"`
	// Admins is the list of role IDs which may create and edit polls.
	Admins []string `toml:"admins"`
	// Export is the list of user IDs who may see results of any poll.
	Export []string `toml:"export"`
	// Emotes is the emotes and their weights for the server.
	Emotes map[string]int `toml:"emotes"`
	// Rate is the rate limit for confirmations.
	Rate Rate `toml:"rate"`
}

// Rate is a rate limit configuration.
type Rate struct {
	Every float64 `toml:"every"`
	Num   int     `toml:"num"`
}

// limiter creates a limiter for the rate, or nil if it is unlimited.
func (r Rate) limiter() *rate.Limiter {
	if r.Every <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(fseconds(r.Every)), max(r.Num, 1))
}

func expandcfg(cfg *Config, expand func(s string) string) {
	fields := []*string{
		&cfg.SecretFile,
		&cfg.Owner.Name,
		&cfg.Owner.Contact,
		&cfg.Owner.ID,
		&cfg.DB.Store,
		&cfg.DB.KVFlag,
		&cfg.DB.Audit,
		&cfg.DB.Privacy,
		&cfg.Discord.TokenFile,
		&cfg.HTTP.Listen,
	}
	for _, f := range fields {
		*f = os.Expand(*f, expand)
	}
	for _, s := range cfg.Servers {
		s.ID = os.Expand(s.ID, expand)
	}
}

// servers builds the runtime configuration of each server by ID.
func servers(global Global, cfg map[string]*ServerCfg) map[string]*channel.Server {
	r := make(map[string]*channel.Server, len(cfg))
	for nm, s := range cfg {
		v := &channel.Server{
			ID:      s.ID,
			Name:    nm,
			Admins:  s.Admins,
			Export:  s.Export,
			Rate:    s.Rate.limiter(),
			History: channel.NewHistory(),
		}
		if e := mergemaps(global.Emotes, s.Emotes); len(e) != 0 {
			v.Emotes = pick.New(pick.FromMap(e))
		}
		r[s.ID] = v
	}
	return r
}

func mergemaps(ms ...map[string]int) map[string]int {
	u := make(map[string]int)
	for _, m := range ms {
		for k, v := range m {
			u[k] += v
		}
	}
	return u
}

func fseconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// loadDBs opens the document store and the SQL databases. The audit log and
// privacy list share a pool when their DSNs are equal.
func loadDBs(ctx context.Context, cfg DBCfg) (kv *badger.DB, aud, priv *sqlitex.Pool, err error) {
	opts := badger.DefaultOptions(cfg.Store)
	if cfg.Store == "" {
		slog.WarnContext(ctx, "using in-memory document store; polls will not persist")
		opts = opts.WithInMemory(true)
	} else {
		slog.DebugContext(ctx, "document store", slog.String("path", cfg.Store), slog.String("flags", cfg.KVFlag))
	}
	opts = opts.WithLogger(nil)
	opts = opts.WithCompression(options.None)
	kv, err = badger.Open(opts.FromSuperFlag(cfg.KVFlag))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("couldn't open document store: %w", err)
	}

	slog.DebugContext(ctx, "audit db", slog.String("path", cfg.Audit))
	aud, err = sqlitex.NewPool(cfg.Audit, sqlitex.PoolOptions{})
	if err != nil {
		kv.Close()
		return nil, nil, nil, fmt.Errorf("couldn't open audit db: %w", err)
	}
	switch cfg.Privacy {
	case cfg.Audit:
		slog.DebugContext(ctx, "privacy db shared with audit db")
		priv = aud
	default:
		slog.DebugContext(ctx, "privacy db", slog.String("path", cfg.Privacy))
		priv, err = sqlitex.NewPool(cfg.Privacy, sqlitex.PoolOptions{})
		if err != nil {
			kv.Close()
			aud.Close()
			return nil, nil, nil, fmt.Errorf("couldn't open privacy db: %w", err)
		}
	}
	return kv, aud, priv, nil
}

type keys struct {
	// userhash is the key for voter tags.
	userhash []byte
}

func loadSecrets(file string) (*keys, error) {
	k, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("couldn't read secret key: %w", err)
	}
	return &keys{userhash: domainkey(make([]byte, 64), k, []byte("userhash"))}, nil
}

func loadToken(file string) (string, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("couldn't read Discord token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// domainkey fills o with a key derived from k for the given domain. Panics if
// a key cannot be expanded.
func domainkey(o, k, domain []byte) []byte {
	kr := hkdf.Expand(sha3.New224, k, domain)
	if _, err := io.ReadFull(kr, o); err != nil {
		panic(err)
	}
	return o
}
