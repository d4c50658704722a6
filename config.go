// Package rebalanced wires the core components (mesh, channel registry,
// rate limiter, invoice acceptance policy, rebalance monitor/coordinator)
// into a runnable Daemon, the way the teacher's lnd.go/server.go wire
// lnd's subsystems around a *server.
package rebalanced

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/lnrebalance/rebalanced/rerrors"
)

const defaultConfigFilename = "rebalanced.conf"

// ChannelOverride lets one watched channel deviate from the per-alias
// defaults (spec §6: "per-(alias, channel) tunables").
type ChannelOverride struct {
	BalancePoint       *float64 `long:"balance_point"`
	Deadzone           *float64 `long:"deadzone"`
	MaxTransactionSize *string  `long:"max_transaction_size"`
	MinTimeBetween     *string  `long:"min_time_between_payments"`
}

// Config is the full configuration surface of spec §6. ChannelOverrides is
// populated from the config file, not command-line flags, since it is
// keyed by arbitrary channel ids.
type Config struct {
	ClusterSecret string `long:"secret" description:"shared cluster secret; its SHA-256 is the mesh rendezvous topic" required:"true"`

	Alias string `long:"alias" description:"human alias advertised in hello, mirrors the LN node's own alias"`

	RefreshRate time.Duration `long:"refresh_rate" default:"30s" description:"how often the rebalance monitor ticks"`

	BalancePoint float64 `long:"balance_point" default:"0.5" description:"target local/capacity fraction"`

	Deadzone float64 `long:"deadzone" default:"0.05" description:"tolerance below balance_point before rebalancing"`

	MaxTransactionSize string `long:"max_transaction_size" default:"1000000" description:"cap on a single rebalance invoice, in tokens"`

	MinTimeBetweenPayments time.Duration `long:"min_time_between_payments" default:"10m" description:"per-channel cooldown after dispatching a rebalance"`

	LimitsPeriod time.Duration `long:"limits_period" default:"24h" description:"rolling or fixed window for per-node payer limits"`

	UseRollingLimitsPeriod bool `long:"use_rolling_limits_period" description:"rolling window instead of fixed calendar windows"`

	MaxTransactionsPerPeriod int `long:"max_transactions_per_period" default:"10" description:"max invoices this node will pay per window"`

	MaxAmountPerPeriod string `long:"max_amount_per_period" default:"10000000" description:"max tokens this node will pay per window"`

	DebugListen string `long:"debug_listen" default:"127.0.0.1:9736" description:"address for the operator status endpoint"`

	AuditDBPath string `long:"audit_db" description:"optional bbolt file path for a durable audit log; in-memory if empty"`

	ChannelOverrides map[string]ChannelOverride `group:"channels"`
}

// DefaultConfig returns a Config with every flag default applied but no
// secret set (ClusterSecret is required and must come from the caller).
func DefaultConfig() Config {
	return Config{
		RefreshRate:              30 * time.Second,
		BalancePoint:             0.5,
		Deadzone:                 0.05,
		MaxTransactionSize:       "1000000",
		MinTimeBetweenPayments:   10 * time.Minute,
		LimitsPeriod:             24 * time.Hour,
		MaxTransactionsPerPeriod: 10,
		MaxAmountPerPeriod:       "10000000",
		DebugListen:              "127.0.0.1:9736",
	}
}

// LoadConfig parses command-line flags and, if present, an ini-style
// config file, the way the teacher's loadConfig does in lnd.go.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	parser := flags.NewParser(&cfg, flags.Default)

	if configPath == "" {
		configPath = filepath.Join(".", defaultConfigFilename)
	}
	if _, err := os.Stat(configPath); err == nil {
		iniParser := flags.NewIniParser(parser)
		if err := iniParser.ParseFile(configPath); err != nil {
			return nil, rerrors.Config(err)
		}
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, rerrors.Config(err)
	}

	if cfg.ClusterSecret == "" {
		return nil, rerrors.Config(fmt.Errorf("cluster secret is required"))
	}

	return &cfg, nil
}

// bigIntTokens parses a decimal token amount, used for the arbitrary
// precision fields of Config that flags leaves as strings (spec §9: do not
// constrain these to a machine int width).
func bigIntTokens(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token amount %q", s)
	}
	return n, nil
}

func parseOverrideAmount(s *string, fallback *big.Int) (*big.Int, error) {
	if s == nil {
		return fallback, nil
	}
	return bigIntTokens(*s)
}

func parseOverrideDuration(s *string, fallback time.Duration) (time.Duration, error) {
	if s == nil {
		return fallback, nil
	}
	return time.ParseDuration(*s)
}
