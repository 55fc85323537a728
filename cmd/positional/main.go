// Command positional is a git-like CLI for CCAMC chess game stores.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/micaherne/positional/internal/chain"
	"github.com/micaherne/positional/internal/chess"
	"github.com/micaherne/positional/internal/game"
	"github.com/micaherne/positional/internal/logx"
	"github.com/micaherne/positional/internal/pgnio"
	"github.com/micaherne/positional/internal/store"
)

const version = "0.1.0"

var (
	flagDir     string
	flagQuiet   bool
	flagCatalog string
	logger      zerolog.Logger
)

func main() {
	logger = logx.New(os.Stderr)

	root := &cobra.Command{
		Use:           "positional",
		Short:         "Content-addressable chess game storage",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagDir, "directory", "C", "", "run as if started in this directory")
	root.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress progress output")
	root.PersistentFlags().StringVar(&flagCatalog, "eco", "", "opening catalog TSV (optionally .zst)")

	root.AddCommand(initCmd(), importCmd(), exportCmd(), verifyCmd(), gcCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// findStore locates the store directory: a .positional/ subdirectory with
// a config marker, walking up from start, or a bare store (config file
// directly in the directory).
func findStore(start string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for {
		sub := filepath.Join(dir, ".positional")
		if _, err := os.Stat(filepath.Join(sub, "config")); err == nil {
			return sub, true
		}
		if _, err := os.Stat(filepath.Join(dir, "config")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ensureStore finds the store or exits with status 3, like git does for
// "not a repository".
func ensureStore() string {
	start := flagDir
	if start == "" {
		start = "."
	}
	dir, ok := findStore(start)
	if !ok {
		fmt.Fprintf(os.Stderr, "fatal: not a positional repository: %s\n", start)
		os.Exit(3)
	}
	return dir
}

func storeConfig() store.Config {
	cfg := store.Config{CatalogPath: flagCatalog}
	if !flagQuiet {
		cfg.Logger = logx.Component(logger, "store")
	} else {
		cfg.Logger = zerolog.Nop()
	}
	return cfg
}

func initCmd() *cobra.Command {
	var hashFamily string
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new positional store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			dir := filepath.Join(target, ".positional")
			if _, err := os.Stat(dir); err == nil {
				return fmt.Errorf("already a positional repository: %s", target)
			}
			cfg := storeConfig()
			cfg.HashFamily = chain.HashFamily(hashFamily)
			if err := store.Init(dir, cfg); err != nil {
				return err
			}
			fmt.Printf("Initialized empty positional repository in %s\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&hashFamily, "hash", string(chain.HashXX64), "content hash family (xxhash64 or siphash64)")
	return cmd
}

func importCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "import <file.pgn[.zst]>",
		Short: "Import a PGN file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if label == "" {
				return fmt.Errorf("--label is required")
			}
			log := logx.Component(logger, "import")
			dir := ensureStore()

			s, err := store.Open(dir, storeConfig())
			if err != nil {
				return err
			}
			defer s.Close()

			path := args[0]
			size, shaHex, err := hashFile(path)
			if err != nil {
				return err
			}
			sourceHash := s.Sources().Add(store.SourceEntry{
				Label:      label,
				ImportedAt: time.Now().UTC().Format(time.RFC3339),
				ByteSize:   size,
				SHA256Hex:  shaHex,
			})

			r, err := pgnio.Open(path)
			if err != nil {
				return err
			}
			defer r.Close()

			start := time.Now()
			sc := pgnio.NewScanner(r)
			count := 0
			for {
				g, err := sc.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return fmt.Errorf("game %d: %w", count, err)
				}
				gameID := fmt.Sprintf("%s:%d", label, count)
				if _, _, err := s.IngestGame(g, gameID, sourceHash); err != nil {
					return fmt.Errorf("game %s: %w", gameID, err)
				}
				count++
				if !flagQuiet && count%1000 == 0 {
					log.Info().Int("games", count).Msg("import progress")
				}
			}

			if err := s.Flush(); err != nil {
				return err
			}

			if flagQuiet {
				fmt.Printf("%016x\n", sourceHash)
			} else {
				log.Info().
					Str("label", label).
					Int("games", count).
					Int64("bytes", size).
					Dur("elapsed", time.Since(start)).
					Msg("import complete")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "source label for imported games (required)")
	return cmd
}

func exportCmd() *cobra.Command {
	var all bool
	var asUCI bool
	cmd := &cobra.Command{
		Use:   "export [game-id...]",
		Short: "Export games as PGN (or UCI move lists) to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ensureStore()

			s, err := store.Open(dir, storeConfig())
			if err != nil {
				return err
			}
			defer s.Close()

			ids := args
			if all {
				ids = s.Registry().GameIDs()
			}
			if len(ids) == 0 {
				return fmt.Errorf("nothing to export: pass game ids or --all")
			}

			for i, id := range ids {
				g, err := s.ReconstructGame(id)
				if err != nil {
					return fmt.Errorf("reconstruct %s: %w", id, err)
				}
				if asUCI {
					fmt.Printf("%s\t%s\n", id, uciLine(g))
					continue
				}
				if i > 0 {
					fmt.Println()
				}
				if err := pgnio.Write(os.Stdout, g); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "export every registered game")
	cmd.Flags().BoolVar(&asUCI, "uci", false, "emit one tab-separated line per game: id, then coordinate moves")
	return cmd
}

// uciLine renders a game's mainline as space-separated coordinate moves.
func uciLine(g *game.Game) string {
	moves := make([]string, len(g.Moves))
	for i, n := range g.Moves {
		moves[i] = chess.Move{From: n.From, To: n.To, Promo: n.Promo}.UCI()
	}
	return strings.Join(moves, " ")
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check chain, hash and reference integrity for every game",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logx.Component(logger, "verify")
			dir := ensureStore()

			s, err := store.Open(dir, storeConfig())
			if err != nil {
				return err
			}
			defer s.Close()

			failures := 0
			for _, err := range s.VerifyPack() {
				log.Error().Err(err).Msg("pack verification")
				failures++
			}
			for _, ge := range s.Verify() {
				log.Error().Str("game", ge.GameID).Err(ge.Err).Msg("game verification")
				failures++
			}
			if failures > 0 {
				return fmt.Errorf("%d verification failures", failures)
			}
			if !flagQuiet {
				log.Info().Int("games", s.Registry().Count()).Msg("verification passed")
			}
			return nil
		},
	}
}

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Reclaim unreachable blobs via mark/sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ensureStore()

			s, err := store.Open(dir, storeConfig())
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.GC()
			if err != nil {
				return err
			}
			fmt.Printf("kept %d blobs, dropped %d\n", stats.Kept, stats.Dropped)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ensureStore()

			s, err := store.Open(dir, storeConfig())
			if err != nil {
				return err
			}
			defer s.Close()

			st := s.Stats()
			fmt.Printf("games:     %d\n", st.Games)
			fmt.Printf("blobs:     %d\n", st.Blobs)
			fmt.Printf("pack size: %d bytes\n", st.PackBytes)
			fmt.Printf("strings:   %d\n", st.Strings)
			fmt.Printf("metadata:  %d\n", st.Metadata)
			fmt.Printf("sources:   %d\n", st.Sources)
			return nil
		},
	}
}

// hashFile returns the size and SHA-256 of a file.
func hashFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}
