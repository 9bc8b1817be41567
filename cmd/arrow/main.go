package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/arrowvec/arrow/internal/chunker"
	"github.com/arrowvec/arrow/internal/config"
	"github.com/arrowvec/arrow/internal/embed"
	"github.com/arrowvec/arrow/internal/store"
	"github.com/arrowvec/arrow/internal/tui"
	"github.com/arrowvec/arrow/internal/watcher"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

func main() {
	root := &cobra.Command{
		Use:   "arrow",
		Short: "Embedded approximate-nearest-neighbor vector store",
		Long:  "arrow — a single-file HNSW vector store with pluggable embedding backends.",
	}

	var (
		dbPath     string
		configPath string
	)
	root.PersistentFlags().StringVar(&dbPath, "database", "vector_store.yaml", "path to the store file")
	root.PersistentFlags().StringVar(&configPath, "config", ".arrow.toml", "path to a TOML config file")

	loadConfig := func() config.Config {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Warn().Err(err).Str("path", configPath).Msg("config: ignoring unreadable file")
			return config.Config{}
		}
		return cfg
	}

	// The config file's database path applies unless --database was given.
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("database") {
			return
		}
		if cfg := loadConfig(); cfg.Database != "" {
			dbPath = cfg.Database
		}
	}

	// ---- arrow create -------------------------------------------------------
	var maxConnections int
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			m := resolveInt(maxConnections, cfg.MaxConnections, 16)

			if _, err := os.Stat(dbPath); err == nil {
				fmt.Printf("%s already exists — nothing to do.\n", dbPath)
				return nil
			}

			s := store.New(m, rand.New(rand.NewSource(time.Now().UnixNano())))
			if err := s.Save(dbPath); err != nil {
				return fmt.Errorf("create %s: %w", dbPath, err)
			}
			log.Info().Str("path", dbPath).Int("m", m).Msg("store created")
			return nil
		},
	}
	createCmd.Flags().IntVar(&maxConnections, "max-connections", 0, "max neighbors per node per layer (default 16)")
	root.AddCommand(createCmd)

	// ---- arrow add -----------------------------------------------------------
	var (
		embedderName string
		modelDir     string
		seed         int64
		chunkerName  string
	)
	addCmd := &cobra.Command{
		Use:   "add <file> [file...]",
		Short: "Chunk, embed, and insert one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := loadConfig()
			s, _, err := openStore(dbPath, seed)
			if err != nil {
				return err
			}

			embedder, closeEmbedder, err := openEmbedder(resolveStr(embedderName, cfg.Embedder, "local"), resolveStr(modelDir, cfg.ModelDir, "./models"))
			if err != nil {
				return err
			}
			defer closeEmbedder()

			chunkFn := chunkFunc(chunkerName)

			for _, path := range args {
				if err := addFile(ctx, s, embedder, chunkFn, path); err != nil {
					return fmt.Errorf("add %s: %w", path, err)
				}
			}

			if err := s.Save(dbPath); err != nil {
				return fmt.Errorf("save %s: %w", dbPath, err)
			}
			log.Info().Int("count", s.Count()).Msg("store saved")
			return nil
		},
	}
	addCmd.Flags().StringVar(&embedderName, "embedder", "", "embedder backend: local|openai (default local)")
	addCmd.Flags().StringVar(&modelDir, "model-dir", "", "directory containing ONNX model files (local embedder)")
	addCmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed for level assignment and id generation (0 = random)")
	addCmd.Flags().StringVar(&chunkerName, "chunker", "simple", "chunker: simple|rich")
	root.AddCommand(addCmd)

	// ---- arrow query -----------------------------------------------------------
	var topK int
	queryCmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Embed text and print the top-k nearest vectors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			text := strings.Join(args, " ")

			s, _, err := openStore(dbPath, 0)
			if err != nil {
				return err
			}

			embedder, closeEmbedder, err := openEmbedder(resolveStr(embedderName, cfg.Embedder, "local"), resolveStr(modelDir, cfg.ModelDir, "./models"))
			if err != nil {
				return err
			}
			defer closeEmbedder()

			vecs, err := embedder.Embed(cmd.Context(), []string{text})
			if err != nil {
				return &store.EmbedderFailureError{Err: err}
			}

			results, err := s.Query(vecs[0], topK)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no results")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%2d  %.4f  %s  %s\n", i+1, r.Similarity, r.ID, r.Source)
				fmt.Printf("      %s\n", r.Text)
			}
			return nil
		},
	}
	queryCmd.Flags().IntVar(&topK, "top-k", 5, "number of results to return")
	root.AddCommand(queryCmd)

	// ---- arrow list -----------------------------------------------------------
	var listLimit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List up to --limit node ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(dbPath, 0)
			if err != nil {
				return err
			}
			ids := s.IDs()
			if listLimit > 0 && len(ids) > listLimit {
				ids = ids[:listLimit]
			}
			for _, id := range ids {
				payload, _ := s.Fetch(id)
				fmt.Printf("%s  %s\n", id, payload.Source)
			}
			return nil
		},
	}
	listCmd.Flags().IntVar(&listLimit, "limit", 10, "maximum number of ids to print")
	root.AddCommand(listCmd)

	// ---- arrow info -----------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show store path, node count, and distinct sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(dbPath, 0)
			if err != nil {
				return err
			}
			sources := map[string]bool{}
			for _, id := range s.IDs() {
				if p, ok := s.Fetch(id); ok && p.Source != "" {
					path, _, _ := strings.Cut(p.Source, "#")
					sources[path] = true
				}
			}
			names := make([]string, 0, len(sources))
			for name := range sources {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("path:       %s\n", dbPath)
			fmt.Printf("vectors:    %d\n", s.Count())
			fmt.Printf("dimension:  %d\n", s.Dim())
			fmt.Printf("max conns:  %d\n", s.MaxConnections())
			fmt.Printf("sources:    %d\n", len(names))
			for _, name := range names {
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	})

	// ---- arrow watch -----------------------------------------------------------
	watchCmd := &cobra.Command{
		Use:   "watch <dir> [dir...]",
		Short: "Watch directories, re-indexing files as they change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := loadConfig()
			s, _, err := openStore(dbPath, seed)
			if err != nil {
				return err
			}

			embedder, closeEmbedder, err := openEmbedder(resolveStr(embedderName, cfg.Embedder, "local"), resolveStr(modelDir, cfg.ModelDir, "./models"))
			if err != nil {
				return err
			}
			defer closeEmbedder()

			chunkFn := chunkFunc(chunkerName)

			add := func(path string) error {
				if err := addFile(ctx, s, embedder, chunkFn, path); err != nil {
					return err
				}
				return s.Save(dbPath)
			}

			w, err := watcher.New(add, chunker.IsSupportedFile, log)
			if err != nil {
				return err
			}

			done := make(chan struct{})
			go func() {
				<-ctx.Done()
				close(done)
			}()

			for _, dir := range args {
				go func(d string) {
					if err := w.Watch(d, done); err != nil {
						log.Error().Err(err).Str("dir", d).Msg("watch failed")
					}
				}(dir)
			}
			log.Info().Strs("dirs", args).Msg("watching for changes — ctrl+c to stop")
			<-done
			return nil
		},
	}
	watchCmd.Flags().StringVar(&embedderName, "embedder", "", "embedder backend: local|openai (default local)")
	watchCmd.Flags().StringVar(&modelDir, "model-dir", "", "directory containing ONNX model files (local embedder)")
	watchCmd.Flags().StringVar(&chunkerName, "chunker", "simple", "chunker: simple|rich")
	root.AddCommand(watchCmd)

	// ---- arrow tui -----------------------------------------------------------
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive query interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			s, _, err := openStore(dbPath, 0)
			if err != nil {
				return err
			}

			embedder, closeEmbedder, err := openEmbedder(resolveStr(embedderName, cfg.Embedder, "local"), resolveStr(modelDir, cfg.ModelDir, "./models"))
			if err != nil {
				return err
			}
			defer closeEmbedder()

			m := tui.New(s, embedder)
			p := tea.NewProgram(m, tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	tuiCmd.Flags().StringVar(&embedderName, "embedder", "", "embedder backend: local|openai (default local)")
	tuiCmd.Flags().StringVar(&modelDir, "model-dir", "", "directory containing ONNX model files (local embedder)")
	root.AddCommand(tuiCmd)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("arrow: command failed")
		os.Exit(1)
	}
}

// openStore loads the store at path, or creates a fresh in-memory one if it
// doesn't exist yet (so `add` works against a not-yet-`create`d database).
func openStore(path string, seed int64) (*store.Store, *rand.Rand, error) {
	var rng *rand.Rand
	if seed != 0 {
		rng = rand.New(rand.NewSource(seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return store.New(16, rng), rng, nil
	}

	s, err := store.Load(path, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}
	return s, rng, nil
}

// openEmbedder resolves the named backend, returning a no-op closer for
// backends (like OpenAI) that hold no local resources.
func openEmbedder(name, modelDir string) (embed.Embedder, func(), error) {
	switch name {
	case "", "local":
		log.Info().Str("model-dir", modelDir).Msg("loading local embedder")
		e, err := embed.NewONNX(modelDir, "", 0)
		if err != nil {
			return nil, nil, fmt.Errorf("local embedder: %w", err)
		}
		return e, func() { _ = e.Close() }, nil
	case "openai":
		e, err := embed.NewOpenAIFromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("openai embedder: %w", err)
		}
		return e, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown embedder %q (want local|openai)", name)
	}
}

// chunkFunc resolves the --chunker flag to a splitting function that
// returns plain text chunks, regardless of which chunker produced them.
func chunkFunc(name string) func(path string) ([]string, error) {
	switch name {
	case "rich":
		return func(path string) ([]string, error) {
			chunks, err := chunker.ChunkFile(path, chunker.DefaultOptions())
			if err != nil {
				return nil, err
			}
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Text
			}
			return texts, nil
		}
	default:
		return func(path string) ([]string, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return embed.Chunk(string(data)), nil
		}
	}
}

// addFile chunks, embeds, and inserts one file's chunks, tagging each with
// a "<path>#chunk<N>" source.
func addFile(ctx context.Context, s *store.Store, embedder embed.Embedder, chunkFn func(string) ([]string, error), path string) error {
	texts, err := chunkFn(path)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		log.Warn().Str("path", path).Msg("add: no chunks produced")
		return nil
	}

	bar := progressbar.Default(int64(len(texts)), filepath.Base(path))
	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return &store.EmbedderFailureError{Err: err}
	}
	for i, vec := range vecs {
		source := fmt.Sprintf("%s#chunk%d", path, i+1)
		if _, err := s.Add(vec, texts[i], source); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	return nil
}

func resolveInt(flag, cfg, def int) int {
	if flag != 0 {
		return flag
	}
	if cfg != 0 {
		return cfg
	}
	return def
}

func resolveStr(flag, cfg, def string) string {
	if flag != "" {
		return flag
	}
	if cfg != "" {
		return cfg
	}
	return def
}
