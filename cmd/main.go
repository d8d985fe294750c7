/*
Copyright 2025 Certforge Authors.

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

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/certforge/certforge"
	"github.com/certforge/certforge/config"
	"github.com/certforge/certforge/database"
	"github.com/certforge/certforge/internal/notification"
)

// Certforge represents the CLI application, encapsulating the root Cobra
// command.
type Certforge struct {
	cmd *cobra.Command
}

// forgeInstance holds the runtime service instance and its configuration,
// shared across subcommands.
type forgeInstance struct {
	forge *certforge.Certforge
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the service before any
// subcommand executes.
func preRun(app *forgeInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("certforge.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newForge, err := setupForge(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.forge = newForge
		app.cnf = cnf

		return nil
	}
}

// setupForge connects the datasource and builds the service from it.
func setupForge(cfg *config.Configuration) (*certforge.Certforge, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newForge, err := certforge.NewCertforge(db)
	if err != nil {
		return nil, fmt.Errorf("error creating certforge: %v", err)
	}
	return newForge, nil
}

// NewCLI assembles the command tree: server, workers, migrations, backups and
// config inspection.
func NewCLI() *Certforge {
	var configFile string
	b := &forgeInstance{}

	var rootCmd = &cobra.Command{
		Use:   "certforge",
		Short: "Certificate issuance and on-chain anchoring service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./certforge.json", "Configuration file for certforge")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(backupCommands())
	rootCmd.AddCommand(configCommands())

	return &Certforge{cmd: rootCmd}
}

func (w Certforge) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
