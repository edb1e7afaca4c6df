package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"reelvault/internal/api"
	"reelvault/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configSeen = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// apiAddress prefers --api and falls back to the configured bind address.
func (c *commandContext) apiAddress() (string, error) {
	if c.apiFlag != nil {
		if addr := strings.TrimSpace(*c.apiFlag); addr != "" {
			return addr, nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.Paths.APIBind, nil
}

func (c *commandContext) client() (*api.Client, error) {
	addr, err := c.apiAddress()
	if err != nil {
		return nil, err
	}
	client, err := api.NewClient(addr)
	if err != nil {
		return nil, fmt.Errorf("daemon api address %q: %w", addr, err)
	}
	return client, nil
}

func (c *commandContext) withClient(fn func(*api.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	return wrapClientError(fn(client), client)
}

func wrapClientError(err error, client *api.Client) error {
	if err == nil {
		return nil
	}
	if api.IsAPIUnavailable(err) {
		return fmt.Errorf("connect to daemon: nothing is listening at %s; start the daemon with `reelvault start`", client.BaseURL())
	}
	return err
}

// skipConfigLoadAnnotation marks commands that must run without a valid config.
const skipConfigLoadAnnotation = "skipConfigLoad"

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigLoadAnnotation] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
