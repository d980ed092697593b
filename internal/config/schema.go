// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

var programConfigSchema = `
{
  "type": "object",
  "properties": {
    "addr": {
      "description": "Address the debug HTTP server (/metrics, /debug/heap) listens on.",
      "type": "string"
    },
    "storage": {
      "description": "Storage manager configuration, decoded separately into heap.RTSFlags.",
      "type": "object"
    }
  }
}`
