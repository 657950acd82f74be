// Command merkleruntime is a thin stub CLI exercising the library's public
// API: serialize a tree to a persisted directory, and run a synchronizer
// session (teacher or learner) against a peer over TCP (spec §5 Non-goals:
// the CLI dispatcher itself is an external collaborator beyond this stub).
// Grounded on the teacher's cli/cli.go cobra root-command wiring.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hashgraph/merkleruntime/internal/config"
	"github.com/hashgraph/merkleruntime/internal/logging"
	"github.com/hashgraph/merkleruntime/internal/merkle"
	"github.com/hashgraph/merkleruntime/internal/merkleio"
	"github.com/hashgraph/merkleruntime/internal/sync2"
)

const runtimeVersion = "0.1.0"

var (
	cfgRepoDir string
	listenAddr string
	dialAddr   string
	stateDir   string
)

var rootCmd = &cobra.Command{
	Use:   "merkleruntime",
	Short: "merkleruntime is a Merkle-tree data-plane runtime",
	Long:  "merkleruntime serializes and synchronizes versioned, lazily-hashed Merkle trees between nodes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the runtime version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(runtimeVersion)
		return nil
	},
}

var serializeCmd = &cobra.Command{
	Use:   "serialize",
	Short: "Serialize the empty tree to a persisted state directory",
	Long:  "Demonstrates the on-disk signed-state layout (spec §6) by writing an empty tree to stateDir.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := merkleio.OpenDirectory(stateDir)
		if err != nil {
			return err
		}
		return dir.WriteTree(nil, 1)
	},
}

var syncTeachCmd = &cobra.Command{
	Use:   "sync-teach",
	Short: "Listen for a learner and offer the empty tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgRepoDir)
		if err != nil {
			return err
		}
		log := logging.New(os.Stderr, cfg.Logging.Level)

		ln, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return err
		}
		defer ln.Close()
		log.Info().Str("addr", listenAddr).Msg("waiting for learner")

		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		defer conn.Close()

		teacher := sync2.NewTeacher(conn, nil, cfg.Sync.AckTimeout)
		teacher.SetLogger(log)
		return teacher.Run(context.Background())
	},
}

var syncLearnCmd = &cobra.Command{
	Use:   "sync-learn",
	Short: "Connect to a teacher and learn its tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgRepoDir)
		if err != nil {
			return err
		}
		log := logging.New(os.Stderr, cfg.Logging.Level)

		conn, err := net.DialTimeout("tcp", dialAddr, 10*time.Second)
		if err != nil {
			return err
		}
		defer conn.Close()

		registry := merkleio.NewRegistry()
		learner := sync2.NewLearner(conn, registry, emptyLocalTree{})
		root, err := learner.Run(context.Background())
		if err != nil {
			return err
		}
		log.Info().Bool("has_root", root != nil).Msg("sync complete")
		return nil
	},
}

type emptyLocalTree struct{}

func (emptyLocalTree) FindByHash(h merkle.Hash) (merkle.Node, bool) { return nil, false }

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgRepoDir, "repo-dir", "", "repository config directory")

	serializeCmd.Flags().StringVar(&stateDir, "state-dir", ".merkleruntime/state", "persisted state directory")
	rootCmd.AddCommand(serializeCmd)

	syncTeachCmd.Flags().StringVar(&listenAddr, "listen", ":4040", "address to listen on")
	rootCmd.AddCommand(syncTeachCmd)

	syncLearnCmd.Flags().StringVar(&dialAddr, "peer", "localhost:4040", "teacher address to dial")
	rootCmd.AddCommand(syncLearnCmd)

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
