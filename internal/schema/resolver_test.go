package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/repository"
)

// --- Mock AttributeRepository ---

type mockAttributeRepository struct {
	mock.Mock
}

func (m *mockAttributeRepository) ListAttributes(ctx context.Context, codes []string) ([]domain.AttributeDefinition, error) {
	args := m.Called(ctx, codes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AttributeDefinition), args.Error(1)
}

func (m *mockAttributeRepository) ProductAttributes(ctx context.Context, product *domain.Product, codes []string) (*domain.AttributeSet, error) {
	args := m.Called(ctx, product, codes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AttributeSet), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Resolve ---

func TestResolve_TypeTable(t *testing.T) {
	repo := new(mockAttributeRepository)
	codes := []string{"color", "material", "notes", "blurb", "weight", "pieces", "vegan", "released", "restocked"}
	repo.On("ListAttributes", mock.Anything, codes).Return([]domain.AttributeDefinition{
		{Code: "color", Type: domain.AttributeOption},
		{Code: "material", Type: domain.AttributeMultiOption},
		{Code: "notes", Type: domain.AttributeText},
		{Code: "blurb", Type: domain.AttributeRichText},
		{Code: "weight", Type: domain.AttributeFloat},
		{Code: "pieces", Type: domain.AttributeInteger},
		{Code: "vegan", Type: domain.AttributeBoolean},
		{Code: "released", Type: domain.AttributeDate},
		{Code: "restocked", Type: domain.AttributeDateTime},
	}, nil)

	fields, err := NewResolver(repo, newTestLogger()).Resolve(context.Background(), codes)
	require.NoError(t, err)

	want := map[string]domain.FieldType{
		"color":     domain.FieldKeyword,
		"material":  domain.FieldKeyword,
		"notes":     domain.FieldKeyword,
		"blurb":     domain.FieldKeyword,
		"weight":    domain.FieldFloat,
		"pieces":    domain.FieldInteger,
		"vegan":     domain.FieldBoolean,
		"released":  domain.FieldDate,
		"restocked": domain.FieldDate,
	}
	for code, ft := range want {
		f, ok := fields.Lookup(code)
		require.True(t, ok, "missing field %q", code)
		assert.Equal(t, ft, f.Type, "field %q", code)
	}
	assert.Equal(t, codes, fields.DynamicCodes())
	repo.AssertExpectations(t)
}

func TestResolve_StaticFieldWins(t *testing.T) {
	repo := new(mockAttributeRepository)
	repo.On("ListAttributes", mock.Anything, []string{"color"}).Return([]domain.AttributeDefinition{
		{Code: "color", Type: domain.AttributeOption},
	}, nil)

	fields, err := NewResolver(repo, newTestLogger()).Resolve(context.Background(), []string{"title", "color", "color"})
	require.NoError(t, err)

	title, ok := fields.Lookup("title")
	require.True(t, ok)
	assert.Equal(t, domain.FieldText, title.Type)
	assert.Equal(t, AnalyzerNGram, title.Analyzer)
	assert.False(t, fields.IsDynamic("title"))
	assert.Equal(t, []string{"color"}, fields.DynamicCodes())
	repo.AssertExpectations(t)
}

func TestResolve_UnknownCodeSkipped(t *testing.T) {
	repo := new(mockAttributeRepository)
	repo.On("ListAttributes", mock.Anything, []string{"color", "price"}).Return([]domain.AttributeDefinition{
		{Code: "color", Type: domain.AttributeOption},
	}, nil)

	fields, err := NewResolver(repo, newTestLogger()).Resolve(context.Background(), []string{"color", "price"})
	require.NoError(t, err)
	assert.Equal(t, []string{"color"}, fields.DynamicCodes())
	_, ok := fields.Lookup("price")
	assert.False(t, ok)
}

func TestResolve_OnlyStaticCodesSkipsCatalogue(t *testing.T) {
	repo := new(mockAttributeRepository)

	fields, err := NewResolver(repo, newTestLogger()).Resolve(context.Background(), []string{"manufacturer"})
	require.NoError(t, err)
	assert.Empty(t, fields.DynamicCodes())
	repo.AssertNotCalled(t, "ListAttributes", mock.Anything, mock.Anything)
}

func TestResolve_SchemaNotReadyFallsBackToStatic(t *testing.T) {
	repo := new(mockAttributeRepository)
	repo.On("ListAttributes", mock.Anything, []string{"color"}).
		Return(nil, fmt.Errorf("list attributes: %w", repository.ErrSchemaNotReady))

	fields, err := NewResolver(repo, newTestLogger()).Resolve(context.Background(), []string{"color"})
	require.NoError(t, err)
	assert.Empty(t, fields.DynamicCodes())
	assert.Equal(t, len(StaticFields()), len(fields.Fields()))
}

func TestResolve_OtherErrorPropagates(t *testing.T) {
	repo := new(mockAttributeRepository)
	repo.On("ListAttributes", mock.Anything, []string{"color"}).Return(nil, errors.New("connection refused"))

	fields, err := NewResolver(repo, newTestLogger()).Resolve(context.Background(), []string{"color"})
	assert.Nil(t, fields)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestResolve_UnsupportedType(t *testing.T) {
	repo := new(mockAttributeRepository)
	repo.On("ListAttributes", mock.Anything, []string{"manual"}).Return([]domain.AttributeDefinition{
		{Code: "manual", Type: domain.AttributeType("file")},
	}, nil)

	_, err := NewResolver(repo, newTestLogger()).Resolve(context.Background(), []string{"manual"})
	assert.ErrorIs(t, err, ErrUnsupportedAttributeType)
}

func TestStaticFields_DocumentFields(t *testing.T) {
	fields := domain.NewFieldMap(StaticFields(), nil)
	assert.Equal(t, []string{
		domain.FieldID, domain.FieldUPC, domain.FieldTitle, domain.FieldDescription,
		domain.FieldManufacturer, domain.FieldStock, domain.FieldCategories,
		domain.FieldScore, domain.FieldURL,
	}, fields.StaticDocumentFields())
}
