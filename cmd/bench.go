// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/molecula/relstore"
	"github.com/molecula/relstore/config"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// benchCommand times bulk inserts and indexed lookups on the books table
// of the sample library.
type benchCommand struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer

	N         int
	BatchSize int
	Lookups   int
	Seed      int64
}

func newBenchCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	b := &benchCommand{cfg: config.NewConfig(), stdout: stdout, stderr: stderr}
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark inserts and indexed lookups.",
		Long: `
Inserts rows into the sample library in batches, then runs point
lookups by primary key and range scans over a secondary index.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return b.Run(cmd.Context())
		},
	}
	flags := benchCmd.Flags()
	configFlags(flags, b.cfg)
	flags.IntVarP(&b.N, "num", "n", 100000, "Number of rows to insert.")
	flags.IntVar(&b.BatchSize, "batch-size", 1000, "Rows per insert.")
	flags.IntVar(&b.Lookups, "lookups", 10000, "Number of point lookups and range scans.")
	flags.Int64Var(&b.Seed, "seed", 1, "Random seed for lookup keys.")
	return benchCmd
}

func (b *benchCommand) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.N <= 0 || b.BatchSize <= 0 || b.Lookups < 0 {
		return errors.New("num and batch-size must be positive")
	}
	e, err := setupEnv(b.cfg, b.stderr)
	if err != nil {
		return err
	}
	defer e.Close()

	sch, err := librarySchema()
	if err != nil {
		return errors.Wrap(err, "building schema")
	}
	db, err := openDB(ctx, b.cfg, e, sch)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer db.Close()

	authors, books := sch.Table("authors"), sch.Table("books")
	if _, err := db.InsertOrReplace().Into(authors).Values(authors.CreateRow(schema.Payload{"id": 1, "name": "bench"})).Exec(ctx); err != nil {
		return errors.Wrap(err, "inserting author")
	}

	start := time.Now()
	rows := make([]*schema.Row, 0, b.BatchSize)
	for i := 0; i < b.N; i++ {
		rows = append(rows, books.CreateRow(schema.Payload{
			"id":       i,
			"title":    fmt.Sprintf("book %d", i),
			"authorId": 1,
			"year":     i % 2000,
			"pages":    100 + i%400,
		}))
		if len(rows) == b.BatchSize || i == b.N-1 {
			if _, err := db.InsertOrReplace().Into(books).Values(rows...).Exec(ctx); err != nil {
				return errors.Wrapf(err, "inserting batch ending at %d", i)
			}
			rows = rows[:0]
		}
	}
	b.report("insert", b.N, "rows", time.Since(start))

	rnd := rand.New(rand.NewSource(b.Seed))
	point := db.Select().From(books).Where(relstore.Eq(books.Col("id"), relation.Param(0)))
	start = time.Now()
	for i := 0; i < b.Lookups; i++ {
		res, err := point.Bind(rnd.Intn(b.N)).Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "point lookup")
		}
		if len(res) != 1 {
			return errors.Errorf("point lookup returned %d rows", len(res))
		}
	}
	b.report("point lookup", b.Lookups, "queries", time.Since(start))

	scan := db.Select().From(books).Where(relstore.Between(books.Col("year"), relation.Param(0), relation.Param(1)))
	start = time.Now()
	var scanned int
	for i := 0; i < b.Lookups; i++ {
		lo := rnd.Intn(2000)
		res, err := scan.Bind(lo, lo+10).Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "range scan")
		}
		scanned += len(res)
	}
	b.report("range scan", b.Lookups, "queries", time.Since(start))
	fmt.Fprintf(b.stdout, "%s rows scanned\n", humanize.Comma(int64(scanned)))

	if plan, err := scan.Explain(); err == nil {
		fmt.Fprintf(b.stdout, "range scan plan:\n%s", plan)
	}
	return nil
}

func (b *benchCommand) report(op string, n int, unit string, d time.Duration) {
	rate := float64(n) / d.Seconds()
	fmt.Fprintf(b.stdout, "%-13s %s %s in %v (%s)\n", op, humanize.Comma(int64(n)), unit, d.Round(time.Millisecond), humanize.SIWithDigits(rate, 2, unit+"/s"))
}
