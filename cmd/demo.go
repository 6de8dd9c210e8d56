// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/molecula/relstore"
	"github.com/molecula/relstore/config"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/observer"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/schema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const nullValue = "NULL"

// demoCommand runs a fixed set of queries over the sample library and
// prints their plans and results.
type demoCommand struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer

	// Time to wait for an observer callback.
	observeTimeout time.Duration
}

func newDemoCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	d := &demoCommand{cfg: config.NewConfig(), stdout: stdout, stderr: stderr, observeTimeout: 5 * time.Second}
	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run sample queries and print their plans and results.",
		Long: `demo loads a small library database into the configured store,
then runs selects, joins, aggregations, a live query and a transaction
against it. Every query is printed with its execution plan.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return d.Run(cmd.Context())
		},
	}
	configFlags(demoCmd.Flags(), d.cfg)
	return demoCmd
}

func (d *demoCommand) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := setupEnv(d.cfg, d.stderr)
	if err != nil {
		return err
	}
	defer e.Close()

	sch, err := librarySchema()
	if err != nil {
		return errors.Wrap(err, "building schema")
	}
	db, err := openDB(ctx, d.cfg, e, sch)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer db.Close()

	if err := seedLibrary(ctx, db); err != nil {
		return errors.Wrap(err, "seeding")
	}
	authors, books, loans := sch.Table("authors"), sch.Table("books"), sch.Table("loans")

	// Live query first, so later writes show up as changes.
	changes := make(chan []observer.ChangeRecord, 16)
	recent := db.Select(books.Col("title"), books.Col("year")).
		From(books).
		Where(relstore.Gte(books.Col("year"), 1970)).
		OrderBy(books.Col("year"), index.Asc)
	h, err := db.Observe(recent, func(records []observer.ChangeRecord) { changes <- records })
	if err != nil {
		return errors.Wrap(err, "observing")
	}
	defer db.Unobserve(recent, h)
	d.printChanges("books since 1970 (initial)", changes)

	queries := []struct {
		title string
		q     *relstore.SelectBuilder
	}{
		{
			"three most recent books",
			db.Select(books.Col("title"), books.Col("year")).
				From(books).
				OrderBy(books.Col("year"), index.Desc).
				Limit(3),
		},
		{
			"books with their authors",
			db.Select(books.Col("title"), authors.Col("name")).
				From(books).
				InnerJoin(authors, relstore.JoinOn(books.Col("authorId"), relation.EQ, authors.Col("id"))).
				OrderBy(books.Col("title"), index.Asc),
		},
		{
			"books per author",
			db.Select(books.Col("authorId"),
				relstore.Count(relstore.Star).As("books"),
				relstore.Avg(books.Col("pages")).As("avgPages")).
				From(books).
				GroupBy(books.Col("authorId")).
				OrderBy(books.Col("authorId"), index.Asc),
		},
		{
			"books and their loans",
			db.Select(books.Col("title"), loans.Col("member")).
				From(books).
				LeftOuterJoin(loans, relstore.JoinOn(books.Col("id"), relation.EQ, loans.Col("bookId"))).
				OrderBy(books.Col("title"), index.Asc),
		},
		{
			"titles matching /^The/",
			db.Select(books.Col("title")).
				From(books).
				Where(relstore.Match(books.Col("title"), "^The")),
		},
	}
	for _, q := range queries {
		if err := d.runQuery(ctx, q.title, q.q); err != nil {
			return err
		}
	}

	// Deleting an author cascades to its books; a loan on one of them
	// restricts the delete.
	del := db.Delete().From(authors).Where(relstore.Eq(authors.Col("id"), 3))
	if _, err := del.Exec(ctx); err != nil {
		fmt.Fprintf(d.stdout, "delete author 3: %v\n\n", err)
	}
	tx := db.CreateTransaction()
	if err := tx.Begin(ctx, authors, books, loans); err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if _, err := tx.Attach(ctx, db.Delete().From(loans).Where(relstore.Eq(loans.Col("member"), "bob"))); err != nil {
		return errors.Wrap(err, "deleting loans")
	}
	if _, err := tx.Attach(ctx, del); err != nil {
		return errors.Wrap(err, "deleting author")
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "committing")
	}
	fmt.Fprintf(d.stdout, "transaction committed: %+v\n\n", *tx.Stats())

	if _, err := db.Insert().Into(books).Values(books.CreateRow(schema.Payload{
		"id": 15, "title": "The Lathe of Heaven", "authorId": 1, "year": 1971, "pages": 184,
	})).Exec(ctx); err != nil {
		return errors.Wrap(err, "inserting book")
	}
	d.printChanges("books since 1970 (after insert)", changes)

	stats, err := db.TableStats(ctx)
	if err != nil {
		return errors.Wrap(err, "table stats")
	}
	t := d.newTable()
	t.AppendHeader(table.Row{"table", "rows"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.Name, s.Rows})
	}
	t.Render()
	return nil
}

func (d *demoCommand) runQuery(ctx context.Context, title string, q *relstore.SelectBuilder) error {
	plan, err := q.Explain()
	if err != nil {
		return errors.Wrapf(err, "explaining %q", title)
	}
	rows, err := q.Exec(ctx)
	if err != nil {
		return errors.Wrapf(err, "running %q", title)
	}
	fmt.Fprintf(d.stdout, "== %s\n%s\n", title, plan)
	writePayloads(d.newTable(), rows)
	fmt.Fprintln(d.stdout)
	return nil
}

func (d *demoCommand) printChanges(title string, changes <-chan []observer.ChangeRecord) {
	select {
	case records := <-changes:
		fmt.Fprintf(d.stdout, "== %s\n", title)
		for _, r := range records {
			fmt.Fprintf(d.stdout, "splice at %d: %d added, %d removed\n", r.Index, r.AddedCount, len(r.Removed))
		}
		writePayloads(d.newTable(), records[len(records)-1].Object)
		fmt.Fprintln(d.stdout)
	case <-time.After(d.observeTimeout):
		fmt.Fprintf(d.stderr, "no change reported for %s\n", title)
	}
}

func (d *demoCommand) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(d.stdout)
	// Don't uppercase the header values.
	t.Style().Format.Header = text.FormatDefault
	return t
}

// writePayloads renders rows with one column per key. Join results nest
// each table's payload under the table name; those become "table.col".
func writePayloads(t table.Writer, rows []schema.Payload) {
	flat := make([]map[string]interface{}, len(rows))
	keys := map[string]struct{}{}
	for i, r := range rows {
		flat[i] = map[string]interface{}{}
		flatten("", r, flat[i])
		for k := range flat[i] {
			keys[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	hr := make(table.Row, len(header))
	for i, h := range header {
		hr[i] = h
	}
	t.AppendHeader(hr)
	for _, f := range flat {
		row := make(table.Row, len(header))
		for i, h := range header {
			// go-pretty doesn't expect nil values.
			if v, ok := f[h]; ok && v != nil {
				row[i] = v
			} else {
				row[i] = nullValue
			}
		}
		t.AppendRow(row)
	}
	t.Render()
}

func flatten(prefix string, p schema.Payload, out map[string]interface{}) {
	for k, v := range p {
		if nested, ok := v.(schema.Payload); ok {
			flatten(prefix+k+".", nested, out)
			continue
		}
		out[prefix+k] = v
	}
}
