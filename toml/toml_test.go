// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package toml_test

import (
	"testing"
	"time"

	"github.com/molecula/relstore/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	var d toml.Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	b, err := d.MarshalTOML()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))

	err = d.UnmarshalText([]byte("soon"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `parsing duration "soon"`)

	*d.Ptr() = time.Second
	assert.Equal(t, "1s", d.String())
}
