// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the rts-storaged program
// configuration file, the way internal/config does for cc-backend:
// read the file, validate it against an embedded JSON schema, decode it
// with unknown fields rejected.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// ProgramConfig is the top-level configuration for the rts-storaged
// command. The storage manager's own tunables live under "storage" and
// are decoded separately into heap.RTSFlags by the caller, mirroring how
// cc-backend's top-level config embeds a raw "metric-store" section that
// metricstore.Init decodes itself.
type ProgramConfig struct {
	// Addr is where the debug HTTP server (/metrics, /debug/heap) listens.
	Addr string `json:"addr"`

	// Storage is kept verbatim; the caller decodes it into heap.RTSFlags.
	Storage json.RawMessage `json:"storage"`
}

// Keys holds the effective program configuration.
var Keys = ProgramConfig{
	Addr: ":8090",
}

// Init reads flagConfigFile, validates it, and decodes it into Keys. A
// missing file is not an error (defaults apply), matching cc-backend's
// internal/config.Init.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Fatal(err)
		}
		return
	}

	Validate(programConfigSchema, raw)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cclog.Fatal(err)
	}
}
