package main

import (
	"strings"
	"sync"

	"cadence/internal/api"
	"cadence/internal/config"
)

// commandContext lazily resolves configuration and the daemon API client so
// commands share one instance of each.
type commandContext struct {
	configFlag *string
	addrFlag   *string
	tokenFlag  *string

	once   sync.Once
	cfg    *config.Config
	cfgErr error
}

func newCommandContext(configFlag, addrFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		addrFlag:   addrFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = *c.configFlag
		}
		c.cfg, _, _, c.cfgErr = config.Load(path)
	})
	return c.cfg, c.cfgErr
}

// client builds the daemon API client from flags, falling back to the
// configured bind address and token.
func (c *commandContext) client() (*api.Client, error) {
	addr := ""
	token := ""
	if c.addrFlag != nil {
		addr = strings.TrimSpace(*c.addrFlag)
	}
	if c.tokenFlag != nil {
		token = strings.TrimSpace(*c.tokenFlag)
	}

	if addr == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if addr == "" {
			addr = cfg.Paths.APIBind
		}
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}
	return api.NewClient(addr, token), nil
}
