package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunquery/client"
)

func newPartitionCmd() *cobra.Command {
	var (
		collection  string
		partitions  int64
		parallelism int
		where       []string
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "partition",
		Short: "Run a partitioned query and print partition/document pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseWhere(where)
			if err != nil {
				return err
			}
			params := client.NewPartitionQueryParams(client.NewQueryParams(collection).WithFilter(filter), partitions)

			start := time.Now()
			seq, err := newClient().StreamPartitionQueryDocWithErrors(cmd.Context(), parallelism, params)
			if err != nil {
				return err
			}

			perPartition := make(map[string]int)
			total, failed := 0, 0
			for pd, err := range seq {
				label := pd.Partition.String()
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s\terror: %v\n", label, err)
					continue
				}
				total++
				perPartition[label]++
				if !quiet {
					if err := printDocument(os.Stdout, label+"\t", pd.Document); err != nil {
						return err
					}
				}
			}

			labels := make([]string, 0, len(perPartition))
			for label := range perPartition {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			fmt.Fprintf(os.Stderr, "\n%d documents from %d partitions in %v (%d errors)\n",
				total, len(perPartition), time.Since(start).Round(time.Millisecond), failed)
			for _, label := range labels {
				fmt.Fprintf(os.Stderr, "  %-60s %d\n", label, perPartition[label])
			}
			if failed > 0 {
				return fmt.Errorf("%d partition errors", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "items", "Collection ID")
	cmd.Flags().Int64Var(&partitions, "partitions", 0, "Partitions to request (0 = configured default)")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "Concurrent partition queries (0 = configured default)")
	cmd.Flags().StringArrayVar(&where, "where", nil, `Filter such as "even==true" (repeatable)`)
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Only print the summary")
	return cmd
}
