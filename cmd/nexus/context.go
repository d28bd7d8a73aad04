package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"nexus/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiBase resolves the daemon base URL: the --api flag wins, otherwise the
// configured bind address.
func (c *commandContext) apiBase() string {
	if c.apiFlag != nil {
		if base := strings.TrimSpace(*c.apiFlag); base != "" {
			return strings.TrimRight(base, "/")
		}
	}
	bind := config.Default().Paths.APIBind
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		bind = cfg.Paths.APIBind
	}
	return "http://" + bind
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(c.apiBase())
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
