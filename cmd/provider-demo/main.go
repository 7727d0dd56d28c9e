/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command provider-demo is a minimal out-of-process capability
// provider: it reads the base64-encoded host descriptor line the host
// supervisor writes to its stdin at spawn, prints "ready", and waits
// (spec.md §8 scenario S1). It implements no lattice wire protocol of
// its own — RPC handling is out of scope for this subsystem (spec.md
// §1) and is left to a real provider implementation.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lattice-io/hostrt/internal/hostinfo"
	"github.com/lattice-io/hostrt/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("provider-demo %s\n", version.String())
		os.Exit(0)
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read host descriptor: %v\n", err)
		os.Exit(1)
	}

	descriptor, err := hostinfo.Decode(line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to decode host descriptor: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("received host descriptor for provider_key=%s link_name=%s instance_id=%s\n",
		descriptor.ProviderKey, descriptor.LinkName, descriptor.InstanceID)
	fmt.Println("ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
}
