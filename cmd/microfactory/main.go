// Copyright 2025 Microfactory Authors
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

// Command microfactory runs the MAKER/MDAP task-orchestration engine.
//
// Usage:
//
//	microfactory run --config domains.yaml --domain code --prompt "add retries to the client"
//	microfactory status --json
//	microfactory resume --config domains.yaml --session-id <uuid>
//	microfactory serve --config domains.yaml --port 8080
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/tschacht/microfactory/internal/config"
	"github.com/tschacht/microfactory/internal/logging"
	"github.com/tschacht/microfactory/internal/ports"
)

// CLI is the top-level command-line interface.
type CLI struct {
	Config    string `short:"c" help:"Path to the domain config YAML file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)." type:"path"`
	LogFormat string `help:"Log format (simple, verbose, json)." default:"simple" enum:"simple,verbose,json"`
	Verbose   bool   `short:"v" help:"Shorthand for --log-level=debug."`

	Run        RunCmd        `cmd:"" help:"Run a prompt through a domain end to end."`
	Status     StatusCmd     `cmd:"" help:"Show session status."`
	Resume     ResumeCmd     `cmd:"" help:"Resume a suspended session."`
	Subprocess SubprocessCmd `cmd:"" help:"Solve a single step without persistence."`
	Serve      ServeCmd      `cmd:"" help:"Start the HTTP session-inspection API."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`
}

// VersionCmd prints the build version embedded by the Go toolchain.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	fmt.Printf("microfactory %s\n", version)
	return nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("microfactory"),
		kong.Description("MAKER/MDAP task-orchestration engine."),
		kong.UsageOnError(),
	)

	if cli.Verbose {
		cli.LogLevel = "debug"
	}

	var logOutput *os.File
	if cli.LogFile != "" {
		f, err := logging.OpenSessionLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "microfactory: open log file: %v\n", err)
			os.Exit(exitUserError)
		}
		defer f.Close()
		logOutput = f
	}
	logging.Setup(logging.Config{
		Level:  cli.LogLevel,
		Format: logging.Format(cli.LogFormat),
		Output: logOutput,
	})

	if err := config.EnsureHome(); err != nil {
		fmt.Fprintf(os.Stderr, "microfactory: create home directory: %v\n", err)
		os.Exit(exitUserError)
	}

	err := kctx.Run(&cli)
	os.Exit(exitCodeFor(err))
}

// Exit codes per the documented CLI contract: 0 success (including a clean
// pause), 1 user/config error, 2 provider/auth error, 3 verification
// failure without other recovery.
const (
	exitOK            = 0
	exitUserError     = 1
	exitProviderError = 2
	exitVerifyFailure = 3
)

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "microfactory: %v\n", err)

	if lerr, ok := ports.AsLlmError(err); ok {
		if lerr.Kind == ports.LlmErrorAuth || lerr.Kind == ports.LlmErrorProvider {
			return exitProviderError
		}
	}
	if isVerificationFailure(err) {
		return exitVerifyFailure
	}
	return exitUserError
}
