// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"github.com/go-viper/mapstructure/v2"

	"github.com/devicelab/core/corerr"
)

// ApplyOverrides decodes a loosely-typed map (typically assembled from
// CLI flags) onto cfg, weakly typing so "30s"-style duration strings and
// numeric strings decode without the caller pre-parsing them.
func ApplyOverrides(cfg *Config, overrides map[string]interface{}) error {
	if len(overrides) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
		TagName:          "hcl",
	})
	if err != nil {
		return corerr.Wrap(corerr.Internal, "build config decoder", err)
	}
	if err := decoder.Decode(overrides); err != nil {
		return corerr.Wrap(corerr.ConfigParseError, "apply config overrides", err)
	}
	if err := cfg.parseDurations(); err != nil {
		return corerr.Wrap(corerr.ConfigParseError, "apply config overrides", err)
	}
	return nil
}
