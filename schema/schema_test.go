// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package schema_test

import (
	"testing"
	"time"

	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hierarchy(t *testing.T) *schema.Database {
	t.Helper()
	b := schema.NewBuilder("hr")
	b.CreateTable("Region").
		AddColumn("id", schema.String).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false)
	b.CreateTable("Country").
		AddColumn("id", schema.Integer).
		AddColumn("name", schema.String).
		AddColumn("regionId", schema.String).
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, true).
		AddForeignKey("fk_RegionId", schema.FKSpec{Local: "regionId", Ref: "Region.id", Action: schema.Cascade})
	b.CreateTable("Location").
		AddColumn("id", schema.String).
		AddColumn("countryId", schema.Integer).
		AddColumn("hired", schema.DateTime).
		AddNullable("hired").
		AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false).
		AddIndex("idx_hired", false, schema.Desc("hired")).
		AddForeignKey("fk_CountryId", schema.FKSpec{Local: "countryId", Ref: "Country.id"})
	db, err := b.Build()
	require.NoError(t, err)
	return db
}

func TestBuild(t *testing.T) {
	db := hierarchy(t)
	country := db.Table("Country")
	require.NotNil(t, country)

	assert.Equal(t, "Country.pk", country.PrimaryKey().NormalizedName())
	assert.True(t, country.PrimaryKey().IsAutoIncrement())
	assert.True(t, country.Col("id").IsUnique())

	// The foreign key created an index on the child column.
	fk := country.ForeignKeys()[0]
	assert.Equal(t, "Country.fk_RegionId", fk.ChildIndex)
	assert.Equal(t, "Region.pk", fk.ParentIndex)
	assert.NotNil(t, country.Col("regionId").Index())

	loc := db.Table("Location")
	assert.True(t, loc.Col("hired").IsNullable())
	assert.True(t, loc.Index("idx_hired").HasNullableColumn())
	assert.Equal(t, []index.Order{index.Desc}, loc.Index("idx_hired").Orders())
	assert.Equal(t, "Location.#", loc.RowIDIndexName())
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *schema.Builder)
	}{
		{"duplicate table", func(b *schema.Builder) {
			b.CreateTable("a").AddColumn("id", schema.Integer)
			b.CreateTable("a").AddColumn("id", schema.Integer)
		}},
		{"duplicate column", func(b *schema.Builder) {
			b.CreateTable("a").AddColumn("id", schema.Integer).AddColumn("id", schema.String)
		}},
		{"unknown index column", func(b *schema.Builder) {
			b.CreateTable("a").AddColumn("id", schema.Integer).AddIndex("idx", false, schema.Asc("x"))
		}},
		{"bytes index", func(b *schema.Builder) {
			b.CreateTable("a").AddColumn("blob", schema.Bytes).AddIndex("idx", false, schema.Asc("blob"))
		}},
		{"auto increment string", func(b *schema.Builder) {
			b.CreateTable("a").AddColumn("id", schema.String).AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, true)
		}},
		{"nullable primary key", func(b *schema.Builder) {
			b.CreateTable("a").AddColumn("id", schema.Integer).AddNullable("id").
				AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false)
		}},
		{"parent not unique", func(b *schema.Builder) {
			b.CreateTable("p").AddColumn("id", schema.Integer)
			b.CreateTable("c").AddColumn("pid", schema.Integer).
				AddForeignKey("fk", schema.FKSpec{Local: "pid", Ref: "p.id"})
		}},
		{"deferred cascade", func(b *schema.Builder) {
			b.CreateTable("p").AddColumn("id", schema.Integer).AddPrimaryKey([]schema.IndexedCol{schema.Asc("id")}, false)
			b.CreateTable("c").AddColumn("pid", schema.Integer).
				AddForeignKey("fk", schema.FKSpec{Local: "pid", Ref: "p.id", Action: schema.Cascade, Timing: schema.Deferrable})
		}},
		{"bad reference", func(b *schema.Builder) {
			b.CreateTable("c").AddColumn("pid", schema.Integer).
				AddForeignKey("fk", schema.FKSpec{Local: "pid", Ref: "p"})
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := schema.NewBuilder("db")
			test.build(b)
			_, err := b.Build()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrSyntax), "got %v", err)
		})
	}
}

func TestInfo(t *testing.T) {
	db := hierarchy(t)
	info := db.Info()

	assert.Len(t, info.ReferencingForeignKeys("Region"), 1)
	assert.Len(t, info.ReferencingForeignKeys("Country", schema.Cascade), 0)
	assert.Len(t, info.ReferencingForeignKeys("Country", schema.Restrict), 1)

	names := func(ts []*schema.Table) []string {
		var out []string
		for _, t := range ts {
			out = append(out, t.Name())
		}
		return out
	}
	assert.Equal(t, []string{"Country", "Location"}, names(info.DescendantTables("Region")))
	assert.Equal(t, []string{"Country"}, names(info.DescendantTables("Region", schema.Cascade)))
	assert.Equal(t, []string{"Country", "Region"}, names(info.AncestorTables("Location")))
	assert.Equal(t, []string{"Country", "Location", "Region"}, info.WriteScope("Country"))
	assert.Equal(t, []string{"Region", "Country", "Location"}, info.TopologicalOrder([]string{"Location", "Region", "Country"}))
}

func TestCreateRow(t *testing.T) {
	db := hierarchy(t)
	loc := db.Table("Location")

	r1 := loc.CreateRow(schema.Payload{"id": "l1", "countryId": 3.0, "hired": "2020-01-02T03:04:05Z"})
	r2 := loc.CreateRow(schema.Payload{"id": "l2"})
	assert.Greater(t, r2.ID(), r1.ID())
	assert.Equal(t, int64(3), r1.Payload()["countryId"])
	assert.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), r1.Payload()["hired"])

	_, ok := r2.Payload()["hired"]
	assert.True(t, ok, "missing columns are filled with nil")

	key := r1.KeyOfIndex(loc.Index("idx_hired"))
	assert.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), key)

	// Ids handed out after a reservation skip past it.
	db.Allocator().Reserve(100)
	assert.Equal(t, schema.RowID(101), loc.CreateRow(nil).ID())

	kept := loc.DeserializeRow(7, schema.Payload{"id": "l7"})
	assert.Equal(t, schema.RowID(7), kept.ID())
}

func TestAlias(t *testing.T) {
	db := hierarchy(t)
	c := db.Table("Country")
	a := c.As("c2")

	assert.Equal(t, "c2", a.EffectiveName())
	assert.Equal(t, "Country", a.Name())
	assert.Equal(t, "c2.name", a.Col("name").NormalizedName())
	assert.Equal(t, "Country.name", c.Col("name").NormalizedName())
	assert.False(t, a.Col("name").Same(c.Col("name")))
	assert.Equal(t, c.Indices(), a.Indices())
}

func TestPayloadCopy(t *testing.T) {
	p := schema.Payload{"a": schema.Payload{"x": 1}, "b": 2}
	cp := p.Copy()
	cp["a"].(schema.Payload)["x"] = 5
	assert.Equal(t, 1, p["a"].(schema.Payload)["x"])
}
