package errkind_test

import (
	"context"
	"testing"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("classified error", func(t *testing.T) {
		err := errkind.New(errkind.EmptyDataset, "file %s has no rows", "12345")
		assert.Equal(t, errkind.EmptyDataset, errkind.KindOf(err))
		assert.Equal(t, "EmptyDataset: file 12345 has no rows", err.Error())
	})

	t.Run("wrapped by pkg/errors keeps its kind", func(t *testing.T) {
		err := errors.Wrap(errkind.Wrap(errkind.Timeout, context.DeadlineExceeded, "parse"), "dataset-prep")
		assert.True(t, errkind.Is(err, errkind.Timeout))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, "Timeout: parse: context deadline exceeded", errkind.Message(err))
	})

	t.Run("unclassified error is internal", func(t *testing.T) {
		err := errors.New("boom")
		assert.Equal(t, errkind.Internal, errkind.KindOf(err))
		assert.Equal(t, "Internal: boom", errkind.Message(err))
	})

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, errkind.Wrap(errkind.NotFound, nil, "x"))
		assert.False(t, errkind.Is(nil, errkind.NotFound))
		assert.Equal(t, "", errkind.Message(nil))
	})
}
