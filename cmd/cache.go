package main

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dart-isr/donor-geo/pkg/geocode"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the geocode cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count cached addresses by status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		cache, err := openCache(cmd.Context(), cfg.Cache)
		if err != nil {
			return err
		}
		defer cache.Close() //nolint:errcheck

		counts, err := cache.Stats(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}
		printStats(cmd, counts)
		return nil
	},
}

var (
	forgetStreet string
	forgetCity   string
	forgetState  string
	forgetZip    string
	forgetKey    string
)

var cacheForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Remove one address from the cache so it is geocoded again",
	Long: "Cached outcomes never expire. Use forget after correcting a record, or when the " +
		"geocoding service has improved, to force a fresh lookup on the next run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		key := forgetKey
		if key == "" {
			key = geocode.CacheKey(geocode.AddressInput{
				Street: forgetStreet, City: forgetCity, State: forgetState, ZipCode: forgetZip,
			})
		}
		if key == "" {
			return eris.New("cache forget: give --key or an address")
		}

		cache, err := openCache(cmd.Context(), cfg.Cache)
		if err != nil {
			return err
		}
		defer cache.Close() //nolint:errcheck

		removed, err := cache.Forget(cmd.Context(), key)
		if err != nil {
			return eris.Wrap(err, "cache forget")
		}
		if removed {
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %q\n", key)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "not cached: %q\n", key)
		}
		return nil
	},
}

func printStats(cmd *cobra.Command, counts map[geocode.EntryStatus]int) {
	statuses := make([]string, 0, len(counts))
	total := 0
	for s, n := range counts {
		statuses = append(statuses, string(s))
		total += n
	}
	sort.Strings(statuses)

	out := cmd.OutOrStdout()
	for _, s := range statuses {
		fmt.Fprintf(out, "%-15s %d\n", s, counts[geocode.EntryStatus(s)])
	}
	fmt.Fprintf(out, "%-15s %d\n", "total", total)
}

func init() {
	cacheForgetCmd.Flags().StringVar(&forgetKey, "key", "", "normalized cache key")
	cacheForgetCmd.Flags().StringVar(&forgetStreet, "street", "", "street address")
	cacheForgetCmd.Flags().StringVar(&forgetCity, "city", "", "city")
	cacheForgetCmd.Flags().StringVar(&forgetState, "state", "", "state")
	cacheForgetCmd.Flags().StringVar(&forgetZip, "zip", "", "postal code")
	cacheCmd.AddCommand(cacheStatsCmd, cacheForgetCmd)
	rootCmd.AddCommand(cacheCmd)
}
