// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package errors_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/molecula/relstore/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	t.Run("Is", func(t *testing.T) {
		scope := errors.New(errors.ErrScope, "table t2 is not in scope")
		corrupt := errors.Newf(errors.ErrDataCorruption, "index %s has no metadata row", "t.pk")
		unique := errors.NewConstraintError(errors.Unique, "t", "t.pk", 1)

		tests := []struct {
			err    error
			target errors.Code
			exp    bool
		}{
			{err: scope, target: errors.ErrScope, exp: true},
			{err: scope, target: errors.ErrDataCorruption, exp: false},
			{err: errors.Wrap(corrupt, "loading"), target: errors.ErrDataCorruption, exp: true},
			{err: unique, target: errors.ErrConstraintViolation, exp: true},
			{err: errors.Wrap(unique, "insert"), target: errors.ErrConstraintViolation, exp: true},
			{err: unique, target: errors.ErrScope, exp: false},
			{err: fmt.Errorf("plain"), target: errors.ErrUncoded, exp: false},
		}

		for i, test := range tests {
			t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
				got := errors.Is(test.err, test.target)
				assert.Equal(t, test.exp, got)
			})
		}
	})

	t.Run("ConstraintFields", func(t *testing.T) {
		err := errors.Wrap(errors.NewConstraintError(errors.Restrict, "TableA", "fk_TableB", 7), "delete")

		var ce *errors.ConstraintError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, errors.Restrict, ce.Kind)
		assert.Equal(t, "TableA", ce.Table)
		assert.Equal(t, errors.ErrConstraintViolation, errors.CodeOf(err))
	})

	t.Run("JSON", func(t *testing.T) {
		err := errors.Wrap(errors.New(errors.ErrBinding, "parameter 2 is not bound"), "exec")
		j := errors.MarshalJSON(err)
		assert.Contains(t, j, `"code":"Binding"`)

		back := errors.UnmarshalJSON(strings.NewReader(j))
		assert.True(t, errors.Is(back, errors.ErrBinding))
		assert.Equal(t, "exec: parameter 2 is not bound", back.Error())
	})
}
