package services

import (
	"fmt"
	"sort"
	"strings"

	"citypulse/models"
)

// PrintSummary renders one run's statistics for the CLI.
func PrintSummary(r *models.SyncReport, totalRecords int) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  SYNC SUMMARY\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Run\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Duration        : \033[1m%v\033[0m\n", r.Duration.Round(1e7))
	fmt.Printf("  Records found   : \033[1m%d\033[0m\n", r.TotalFound)
	fmt.Printf("  Newly inserted  : \033[1;32m%d\033[0m\n", r.TotalNew)
	fmt.Printf("  Updated         : \033[1m%d\033[0m\n", r.TotalUpdated)
	fmt.Printf("  Skipped         : \033[1;31m%d\033[0m\n", r.Skipped)
	fmt.Printf("  Events          : \033[1m%d\033[0m\n", r.EventsFound)
	fmt.Println()

	fmt.Printf("\033[1;33m  By category\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.ByCategory) == 0 {
		fmt.Printf("  No category data\n")
	} else {
		categories := make([]string, 0, len(r.ByCategory))
		for cat := range r.ByCategory {
			categories = append(categories, cat)
		}
		sort.Strings(categories)
		for _, cat := range categories {
			count := r.ByCategory[cat]
			bar := strings.Repeat("█", min(count, 40))
			fmt.Printf("  %-14s %s (%d)\n", cat, bar, count)
		}
	}

	fmt.Printf("\n  Catalog size: \033[1m%d\033[0m records\n", totalRecords)
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
