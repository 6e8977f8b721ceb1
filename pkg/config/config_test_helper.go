package config

import "time"

// NewTestConfig returns a valid sandbox configuration with zones UBS and
// HPH and no browser delays. It is meant for tests of other packages.
func NewTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvSandbox
	cfg.Zones = map[string]ZoneConfig{
		"UBS": {
			IZCode: "41SLSP_UBS",
			URLs: map[string]string{
				EnvProduction: "https://slsp-ubs.alma.exlibrisgroup.com/mng/action/home.do",
				EnvSandbox:    "https://slsp-ubs-psb.alma.exlibrisgroup.com/mng/action/home.do",
			},
			APIKeys: map[string]string{EnvSandbox: "test-ubs"},
		},
		"HPH": {
			IZCode: "41SLSP_HPH",
			URLs: map[string]string{
				EnvSandbox: "https://slsp-hph-psb.alma.exlibrisgroup.com/mng/action/home.do",
			},
			APIKeys: map[string]string{EnvSandbox: "test-hph"},
		},
	}
	cfg.Browser.Timeout = time.Second
	cfg.Browser.SettleDelay = 0
	cfg.Retry.CheckboxBackoff = 0
	return cfg
}
