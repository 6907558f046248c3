package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"meltyfi/native/lottery"
)

// Config holds the daemon and protocol configuration.
type Config struct {
	DataDir        string `toml:"DataDir"`
	MetricsAddress string `toml:"MetricsAddress"`

	// FeeBps is the protocol fee in basis points, charged at repayment and on
	// cancelled-path refunds.
	FeeBps uint32 `toml:"FeeBps"`
	// MinDurationSeconds and MaxDurationSeconds bound the lottery sale window.
	MinDurationSeconds int64 `toml:"MinDurationSeconds"`
	MaxDurationSeconds int64 `toml:"MaxDurationSeconds"`
	// MaxTicketSupply bounds maxTickets for any single lottery.
	MaxTicketSupply uint64 `toml:"MaxTicketSupply"`
	// BuyerCapBps caps one holder's share of a lottery's ticket supply.
	BuyerCapBps uint32 `toml:"BuyerCapBps"`
	// RewardPerTicket is the ChocoChip amount minted per settled ticket.
	RewardPerTicket uint64 `toml:"RewardPerTicket"`
	// RewardSupplyCap is the total ChocoChip supply cap.
	RewardSupplyCap string `toml:"RewardSupplyCap"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	params := lottery.DefaultParams()
	return &Config{
		DataDir:            "./data",
		MetricsAddress:     ":9464",
		FeeBps:             params.FeeBps,
		MinDurationSeconds: params.MinDuration,
		MaxDurationSeconds: params.MaxDuration,
		MaxTicketSupply:    params.MaxTicketSupply,
		BuyerCapBps:        params.BuyerCapBps,
		RewardPerTicket:    params.RewardPerTicket.Uint64(),
		RewardSupplyCap:    "1000000000000",
	}
}

// Load reads the configuration from path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: DataDir must be set")
	}
	if _, err := c.Params(); err != nil {
		return err
	}
	if _, err := c.SupplyCap(); err != nil {
		return err
	}
	return nil
}

// Params converts the configuration into engine parameters.
func (c *Config) Params() (lottery.Params, error) {
	params := lottery.Params{
		FeeBps:          c.FeeBps,
		MinDuration:     c.MinDurationSeconds,
		MaxDuration:     c.MaxDurationSeconds,
		MaxTicketSupply: c.MaxTicketSupply,
		BuyerCapBps:     c.BuyerCapBps,
		RewardPerTicket: new(big.Int).SetUint64(c.RewardPerTicket),
	}
	if err := params.Validate(); err != nil {
		return lottery.Params{}, err
	}
	return params, nil
}

// SupplyCap parses the reward supply cap.
func (c *Config) SupplyCap() (*big.Int, error) {
	cap, ok := new(big.Int).SetString(c.RewardSupplyCap, 10)
	if !ok || cap.Sign() <= 0 {
		return nil, fmt.Errorf("config: invalid RewardSupplyCap %q", c.RewardSupplyCap)
	}
	return cap, nil
}
