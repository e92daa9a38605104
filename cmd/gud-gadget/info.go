// Copyright 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"strings"

	gud "github.com/ZaparooProject/go-gud"
	"github.com/urfave/cli/v2"
)

func formatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "formats",
		Usage: "List the pixel formats the gadget can advertise",
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			for _, f := range gud.AllFormats {
				fmt.Fprintf(w, "%-10s 0x%02X  %2d bpp\n", f, uint8(f), f.BitsPerPixel())
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "gud-gadget %s (protocol version %d)\n",
				strings.TrimSpace(c.App.Version), gud.DescriptorVersion)
			return nil
		},
	}
}
