package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/github"
	"github.com/rohankatakam/osspulse/internal/graph"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/spf13/cobra"
)

var (
	fetchFoundation string
	fetchNeo4j      bool
)

var commitsCmd = &cobra.Command{
	Use:   "commits <repo>",
	Short: "Fetch per-month committer activity from GitHub",
	Long: `Page through a repository's commit history, look up the file extensions of
every commit, and write <out_dir>/<foundation>/github_data_<repo>.json.
With --neo4j the committer to extension graph is also written to Neo4j.

Examples:
  pulse commits apache/kafka
  pulse commits https://github.com/apache/kafka.git --neo4j`,
	Args: cobra.ExactArgs(1),
	RunE: runCommits,
}

var reposCmd = &cobra.Command{
	Use:   "repos <org>",
	Short: "List an organization's repositories",
	Long: `Page through an organization's repositories with stars, forks and watchers
and write <out_dir>/<foundation>/<org>_repos.json. The listing is also upserted
by name into the github_repositories collection served at /api/github_stars.`,
	Args: cobra.ExactArgs(1),
	RunE: runRepos,
}

func init() {
	for _, c := range []*cobra.Command{commitsCmd, reposCmd} {
		c.Flags().StringVar(&fetchFoundation, "foundation", string(models.FoundationApache), "apache or eclipse")
	}
	commitsCmd.Flags().BoolVar(&fetchNeo4j, "neo4j", false, "also write the Sankey graph to Neo4j")
}

func runCommits(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	foundation, err := parseFoundation(fetchFoundation)
	if err != nil {
		return err
	}
	repo, err := models.ParseRepo(args[0])
	if err != nil {
		return errors.MalformedInputf("%v", err)
	}
	rest, gql, err := newGitHubClients()
	if err != nil {
		return err
	}

	fetcher := github.NewFetcher(gql, rest, cfg.Data.OutDir, foundation, logger)
	if cfg.GitHub.DetailConcurrency > 0 {
		fetcher.DetailConcurrency = cfg.GitHub.DetailConcurrency
	}
	fetcher.MaxRetries = cfg.GitHub.MaxRetries

	activity, stats, err := fetcher.FetchActivity(ctx, repo)
	if stats != nil {
		fmt.Printf("%s: %d commits, %d pages, %d API calls, %d detail failures in %s\n",
			repo, stats.Commits, stats.Pages, stats.APICalls, stats.DetailFailures, stats.Duration)
	}
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", fetcher.FinalPath(repo.Name))

	if !fetchNeo4j {
		return nil
	}
	g := cfg.Graph
	sink, err := graph.NewNeo4jSink(ctx, g.Neo4jURI, g.Neo4jUser, g.Neo4jPassword, g.Neo4jDatabase, logger)
	if err != nil {
		return err
	}
	defer sink.Close(ctx)
	sankey := graph.BuildSankey(activity.Data)
	if err := sink.Write(ctx, repo.Name, sankey); err != nil {
		return err
	}
	fmt.Printf("wrote %d links to Neo4j\n", len(sankey.Links))
	return nil
}

func runRepos(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	foundation, err := parseFoundation(fetchFoundation)
	if err != nil {
		return err
	}
	_, gql, err := newGitHubClients()
	if err != nil {
		return err
	}
	repos, err := github.ListOrgRepos(ctx, gql, args[0], cfg.Data.OutDir, foundation, logger)
	fmt.Printf("%s: %d repositories\n", args[0], len(repos))
	if err != nil || len(repos) == 0 {
		return err
	}

	store, upserter, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	n, err := upserter.UpsertRepositories(ctx, repos)
	fmt.Printf("saved %d repositories to %s\n", n, models.RepositoryCollection)
	return err
}
