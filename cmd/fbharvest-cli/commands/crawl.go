package commands

import (
	"fmt"
	"log/slog"
	"time"

	"fbharvest-backend/lib/configutil"
	"fbharvest-backend/lib/scrapers/fb/uid"
	"fbharvest-backend/lib/sqliteutil"
	"fbharvest-backend/lib/util/serviceutil"
	"fbharvest-backend/services/harvest"
	"fbharvest-backend/services/harvest/db"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"
)

var (
	crawlDb          *string
	crawlUidCache    *string
	crawlPasses      *int
	crawlMentions    *bool
	crawlIncremental *bool
)

func init() {
	crawlDb = crawlCmd.Flags().String("db", "results.db", "The database to write crawl results to.")
	crawlUidCache = crawlCmd.Flags().String("uid-cache", "", "Directory of the persistent account id cache; in-memory when unset.")
	crawlPasses = crawlCmd.Flags().Int("passes", 1, "Comment crawl passes; 2 adds an anonymous pass to catch comments hidden by blocks.")
	crawlMentions = crawlCmd.Flags().Bool("mentions", false, "Resolve the account ids of mentions in comment bodies.")
	crawlIncremental = crawlCmd.Flags().Bool("incremental", false, "Skip comments already stored for this post.")
	rootCmd.AddCommand(crawlCmd)
}

// openUidStore picks the persistent cache when a directory is
// configured, falling back to a per-run in-memory store.
func openUidStore() (uid.Store, func()) {
	if *crawlUidCache == "" {
		return uid.NewMemoryStore(), func() {}
	}
	badgerDb, err := badger.Open(badger.DefaultOptions(*crawlUidCache))
	if err != nil {
		serviceutil.Fatal("failed to open uid cache", err)
	}
	return uid.NewBadgerStore(badgerDb), func() { badgerDb.Close() }
}

var crawlCmd = &cobra.Command{
	Use:   "crawl <post url or id>",
	Short: "Crawls a post's comments, reactions and shares into a database.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		ctx := cmd.Context()
		client := restoreSession(ctx, cfg)

		store, closeStore := openUidStore()
		defer closeStore()

		out, err := sqliteutil.OpenDB(db.Schema, *crawlDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer out.Close()

		service := harvest.NewService(out, uid.NewResolver(store, client))

		t1 := time.Now()
		result, err := service.Scrape(ctx, client, args[0], harvest.Options{
			CommentPasses:   *crawlPasses,
			ResolveMentions: *crawlMentions,
			Incremental:     *crawlIncremental,
			Progress: func(stage string, percent float32) bool {
				fmt.Printf("\r%-10s %6.2f%%", stage, percent)
				return true
			},
		})
		fmt.Println()
		if err != nil {
			serviceutil.Fatal("crawl failed", err)
		}
		t2 := time.Now()

		slog.Info("crawl finished",
			"post", result.Post.PostId,
			"comments", len(result.Comments),
			"reactions", len(result.Reactions),
			"shares", len(result.Shares),
			"seconds", t2.Sub(t1).Seconds())
	},
}
