package commands

import (
	"os"

	"fbharvest-backend/lib/configutil"
	"fbharvest-backend/lib/scrapers/fb/post"
	"fbharvest-backend/lib/scrapers/fb/uid"
	"fbharvest-backend/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reactionsCmd)
}

var reactionsCmd = &cobra.Command{
	Use:   "reactions <post url or id>",
	Short: "Prints who reacted to a post and how.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		ctx := cmd.Context()
		client := restoreSession(ctx, cfg)
		uids := uid.NewResolver(uid.NewMemoryStore(), client)

		p, err := post.Locate(ctx, client, uids, args[0])
		if err != nil {
			serviceutil.Fatal("failed to locate post", err)
		}
		reactions, err := p.Reactions(ctx, nil)
		if err != nil {
			serviceutil.Fatal("failed to crawl reactions", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"UID", "Name", "Reaction"})
		for _, r := range reactions {
			t.AppendRow(table.Row{r.UserId, r.UserName, r.Kind.String()})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
