package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunquery/client"
	"github.com/kartikbazzad/bunquery/wire"
)

var whereOps = []wire.Operator{
	wire.OpGreaterThanOrEqual, wire.OpLessThanOrEqual, wire.OpNotEqual, wire.OpEqual,
	wire.OpGreaterThan, wire.OpLessThan,
}

// parseWhere parses "field<op>value" expressions. Values that parse as
// numbers or booleans are typed accordingly.
func parseWhere(exprs []string) (*wire.Filter, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	filters := make([]wire.Filter, 0, len(exprs))
	for _, expr := range exprs {
		var f *wire.Filter
		for _, op := range whereOps {
			if i := strings.Index(expr, string(op)); i > 0 {
				f = &wire.Filter{Field: strings.TrimSpace(expr[:i]), Op: op, Value: parseValue(strings.TrimSpace(expr[i+len(op):]))}
				break
			}
		}
		if f == nil {
			return nil, fmt.Errorf("invalid filter %q, want field<op>value", expr)
		}
		filters = append(filters, *f)
	}
	if len(filters) == 1 {
		return &filters[0], nil
	}
	return &wire.Filter{Filters: filters}, nil
}

func parseValue(s string) interface{} {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return strings.Trim(s, `"'`)
}

func printDocument(w io.Writer, prefix string, doc *wire.Document) error {
	fields, err := doc.Map()
	if err != nil {
		return err
	}
	line, err := json.Marshal(map[string]interface{}{"name": doc.Name, "fields": fields})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s%s\n", prefix, line)
	return err
}

func newQueryCmd() *cobra.Command {
	var (
		collection string
		limit      int32
		where      []string
		withErrors bool
		readTime   string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Stream a query and print documents as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseWhere(where)
			if err != nil {
				return err
			}
			params := client.NewQueryParams(collection).WithFilter(filter).WithLimit(limit)
			c := newClient()
			if readTime != "" {
				at, err := time.Parse(time.RFC3339Nano, readTime)
				if err != nil {
					return fmt.Errorf("invalid --read-time: %w", err)
				}
				c = c.WithSessionConsistency(client.ReadAt(at))
			}
			ctx := cmd.Context()

			if !withErrors {
				docs, err := c.StreamQueryDoc(ctx, params)
				if err != nil {
					return err
				}
				for doc := range docs {
					if err := printDocument(os.Stdout, "", doc); err != nil {
						return err
					}
				}
				return nil
			}

			docs, err := c.StreamQueryDocWithErrors(ctx, params)
			if err != nil {
				return err
			}
			failed := 0
			for doc, err := range docs {
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}
				if err := printDocument(os.Stdout, "", doc); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d errors while streaming", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "items", "Collection ID")
	cmd.Flags().Int32Var(&limit, "limit", 0, "Maximum number of documents (0 = no limit)")
	cmd.Flags().StringArrayVar(&where, "where", nil, `Filter such as "n>=10" (repeatable, combined with AND)`)
	cmd.Flags().BoolVar(&withErrors, "errors", false, "Report stream errors instead of skipping them")
	cmd.Flags().StringVar(&readTime, "read-time", "", "Read documents as of this RFC 3339 time")
	return cmd
}
