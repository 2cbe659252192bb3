package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studylab/internal/storage"
)

func TestCatalog_ClassifierLifecycle(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	cat := h.svc.Catalog
	ctx := context.Background()

	_, err := cat.CreateClassifier(ctx, "u1", ClassifierInput{Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	c, err := cat.CreateClassifier(ctx, "u1", ClassifierInput{Name: "Tone", Prompt: "Tone?"})
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)

	_, err = cat.GetClassifier(ctx, "u2", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cat.UpdateClassifier(ctx, "u2", c.ID, ClassifierInput{Name: "Tone", Prompt: "p"})
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := cat.UpdateClassifier(ctx, "u1", c.ID, ClassifierInput{Name: "Tone v2", Prompt: "Tone now?"})
	require.NoError(t, err)
	assert.Equal(t, "Tone v2", updated.Name)

	list, err := cat.ListClassifiers(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Tone now?", list[0].Prompt)

	require.NoError(t, cat.DeleteClassifier(ctx, "u1", c.ID))
	_, err = cat.GetClassifier(ctx, "u1", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, cat.DeleteClassifier(ctx, "u1", c.ID), ErrNotFound)
}

func TestCatalog_ConstraintLifecycle(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	cat := h.svc.Catalog
	ctx := context.Background()

	_, err := cat.CreateConstraint(ctx, "u1", ConstraintInput{Name: "r", Rules: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	c, err := cat.CreateConstraint(ctx, "u1", ConstraintInput{Name: "Short", Rules: "Answer in one word."})
	require.NoError(t, err)

	updated, err := cat.UpdateConstraint(ctx, "u1", c.ID, ConstraintInput{Name: "Short", Rules: "Answer briefly."})
	require.NoError(t, err)
	assert.Equal(t, "Answer briefly.", updated.Rules)

	list, err := cat.ListConstraints(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, cat.DeleteConstraint(ctx, "u2", c.ID), ErrNotFound)
	require.NoError(t, cat.DeleteConstraint(ctx, "u1", c.ID))
}

func TestCatalog_UploadAndPreviewDataset(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	cat := h.svc.Catalog
	ctx := context.Background()

	_, err := cat.UploadDataset(ctx, "u1", "empty", "empty.csv", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	raw := []byte("\ufeffid,text\n1,hello world again\n2,second row here\n3,third\n")
	d, err := cat.UploadDataset(ctx, "u1", "", "posts.csv", raw)
	require.NoError(t, err)
	assert.Equal(t, "posts.csv", d.Name)
	assert.Equal(t, 3, d.RowCount)
	assert.Equal(t, []string{"id", "text"}, d.ColumnNames())
	assert.Equal(t, storage.DatasetKey("u1", d.ID, "posts.csv"), d.StorageKey)

	stored, err := h.store.Get(ctx, d.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, raw, stored)

	_, data, err := cat.DownloadDataset(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, raw, data)
	_, _, err = cat.DownloadDataset(ctx, "u2", d.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := cat.PreviewDataset(ctx, "u1", d.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "text"}, p.Columns)
	assert.Equal(t, 3, p.RowCount)
	require.Len(t, p.Rows, 2)
	assert.Equal(t, "hello world again", p.Rows[0]["text"])
}

func TestCatalog_DeleteDatasetRemovesObject(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	cat := h.svc.Catalog
	ctx := context.Background()

	d, err := cat.UploadDataset(ctx, "u1", "posts", "posts.csv", []byte(csvRows(2)))
	require.NoError(t, err)

	assert.ErrorIs(t, cat.DeleteDataset(ctx, "u2", d.ID), ErrNotFound)
	require.NoError(t, cat.DeleteDataset(ctx, "u1", d.ID))

	_, err = h.store.Get(ctx, d.StorageKey)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	list, err := cat.ListDatasets(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
