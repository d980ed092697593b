// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"encoding/json"

	"github.com/cc-lang/rts-storage/internal/config"
)

// ValidateRTSFlags schema-validates raw against rtsFlagsSchema before the
// caller decodes it into RTSFlags, matching pkg/metricstore.Init's
// config.Validate(configSchema, rawConfig) call before its own
// DisallowUnknownFields decode (SPEC_FULL.md's Configuration bullet).
func ValidateRTSFlags(raw json.RawMessage) {
	config.Validate(rtsFlagsSchema, raw)
}

var rtsFlagsSchema = `
{
  "type": "object",
  "properties": {
    "generations": {"type": "integer", "minimum": 1},
    "steps-per-generation": {"type": "integer", "minimum": 1},
    "capabilities": {"type": "integer", "minimum": 1},
    "min-alloc-area-blocks": {"type": "integer", "minimum": 1},
    "max-heap-size-blocks": {"type": "integer", "minimum": 0},
    "heap-size-suggestion-blocks": {"type": "integer", "minimum": 0},
    "compact": {"type": "boolean"},
    "sweep": {"type": "boolean"},
    "keep-cafs": {"type": "boolean"},
    "dynamic-linking": {"type": "boolean"},
    "large-object-threshold-bytes": {"type": "integer", "minimum": 0},
    "exec-page-size-bytes": {"type": "integer", "minimum": 0},
    "sanity": {"type": "boolean"},
    "events": {
      "type": "object",
      "properties": {
        "address": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "creds-file-path": {"type": "string"}
      }
    },
    "debug": {
      "type": "object",
      "properties": {
        "dump-to-file": {"type": "string"},
        "gops": {"type": "boolean"}
      }
    }
  }
}`
