package currency

import (
	"fmt"
	"net/url"
	"strings"
)

// TransactionURL returns the block explorer link for a transaction.
func (c *Config) TransactionURL(pluginID, txid string) (string, error) {
	info, ok := c.Get(pluginID)
	if !ok {
		return "", fmt.Errorf("unknown plugin: %s", pluginID)
	}
	return fillTemplate(info.TransactionExplorer, txid)
}

// AddressURL returns the block explorer link for an address.
func (c *Config) AddressURL(pluginID, address string) (string, error) {
	info, ok := c.Get(pluginID)
	if !ok {
		return "", fmt.Errorf("unknown plugin: %s", pluginID)
	}
	return fillTemplate(info.AddressExplorer, address)
}

func fillTemplate(template, value string) (string, error) {
	if template == "" {
		return "", fmt.Errorf("no explorer configured")
	}
	if strings.Count(template, "%s") != 1 {
		return "", fmt.Errorf("malformed explorer template: %q", template)
	}
	return fmt.Sprintf(template, url.PathEscape(value)), nil
}
