// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"

	"github.com/molecula/relstore"
	"github.com/molecula/relstore/schema"
)

// librarySchema is the sample database used by serve, demo and bench:
//
//	authors <- books (cascade) <- loans (restrict)
func librarySchema() (*schema.Database, error) {
	b := schema.NewBuilder("library")
	b.CreateTable("authors").
		AddColumn("id", schema.Integer).
		AddColumn("name", schema.String).
		AddColumn("born", schema.Integer).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false).
		AddNullable("born").
		AddUnique("uq_name", "name")
	b.CreateTable("books").
		AddColumn("id", schema.Integer).
		AddColumn("title", schema.String).
		AddColumn("authorId", schema.Integer).
		AddColumn("year", schema.Integer).
		AddColumn("pages", schema.Integer).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false).
		AddIndex("idx_year", false, schema.Desc("year")).
		AddIndex("idx_author", false, schema.Asc("authorId")).
		AddForeignKey("fk_author", schema.FKSpec{Local: "authorId", Ref: "authors.id", Action: schema.Cascade})
	b.CreateTable("loans").
		AddColumn("id", schema.Integer).
		AddColumn("bookId", schema.Integer).
		AddColumn("member", schema.String).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, true).
		AddIndex("idx_member", false, schema.Asc("member")).
		AddForeignKey("fk_book", schema.FKSpec{Local: "bookId", Ref: "books.id", Action: schema.Restrict})
	return b.Build()
}

var (
	sampleAuthors = []schema.Payload{
		{"id": 1, "name": "Ursula K. Le Guin", "born": 1929},
		{"id": 2, "name": "Italo Calvino", "born": 1923},
		{"id": 3, "name": "Anonymous", "born": nil},
	}
	sampleBooks = []schema.Payload{
		{"id": 10, "title": "The Dispossessed", "authorId": 1, "year": 1974, "pages": 387},
		{"id": 11, "title": "The Left Hand of Darkness", "authorId": 1, "year": 1969, "pages": 304},
		{"id": 12, "title": "Invisible Cities", "authorId": 2, "year": 1972, "pages": 165},
		{"id": 13, "title": "If on a winter's night a traveler", "authorId": 2, "year": 1979, "pages": 260},
		{"id": 14, "title": "Beowulf", "authorId": 3, "year": 1000, "pages": 120},
	}
	sampleLoans = []schema.Payload{
		{"id": 1, "bookId": 10, "member": "ann"},
		{"id": 2, "bookId": 12, "member": "ann"},
		{"id": 3, "bookId": 14, "member": "bob"},
	}
)

// seedLibrary inserts the sample rows in one transaction, replacing rows
// that already exist.
func seedLibrary(ctx context.Context, db *relstore.DB) error {
	sch := db.Schema()
	rows := func(table string, payloads []schema.Payload) *relstore.InsertBuilder {
		t := sch.Table(table)
		rs := make([]*schema.Row, len(payloads))
		for i, p := range payloads {
			rs[i] = t.CreateRow(p)
		}
		return db.InsertOrReplace().Into(t).Values(rs...)
	}
	_, err := db.CreateTransaction().Exec(ctx,
		rows("authors", sampleAuthors),
		rows("books", sampleBooks),
		rows("loans", sampleLoans),
	)
	return err
}
