package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"moneywright/internal/kvstore"
	"moneywright/internal/parsercache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the parser-code cache",
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached parser keys with version counts",
	RunE:  runCacheLs,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge [source] [fileType]",
	Short: "Drop every cached parser version for a key",
	Long: `Removes all cached versions in both the statement and investment
namespaces for the given issuer and document type. The next parse for that
key starts from a cold cache and regenerates.`,
	Args: cobra.ExactArgs(2),
	RunE: runCachePurge,
}

var keysCmd = &cobra.Command{
	Use:   "keys [source] [fileType]",
	Short: "Print the normalized cache key for an issuer and document type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(parsercache.NormalizeKey(args[0], args[1]))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

// openStore opens just the key-value store; cache commands never need the
// sandbox or the LLM client.
func openStore() (*kvstore.Store, error) {
	store, err := kvstore.New(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

func runCacheLs(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAMESPACE\tKEY\tVERSIONS\tLATEST")
	for _, ns := range []struct {
		label   string
		holding bool
	}{{"statement", false}, {"investment", true}} {
		keys, err := parsercache.ForMode(store, ns.holding).ListKeys()
		if err != nil {
			return err
		}
		for _, info := range keys {
			fmt.Fprintf(w, "%s\t%s\t%d\tv%d\n", ns.label, info.Key, info.VersionCount, info.LatestVersion)
		}
	}
	return w.Flush()
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	key := parsercache.NormalizeKey(args[0], args[1])
	removed := 0
	for _, holding := range []bool{false, true} {
		n, err := parsercache.ForMode(store, holding).ClearAll(key)
		if err != nil {
			return err
		}
		removed += n
	}
	fmt.Printf("removed %d cached versions for %s\n", removed, key)
	return nil
}
