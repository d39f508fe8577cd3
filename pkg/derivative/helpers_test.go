package derivative_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-derivative/pkg/derivative"
	brokermemory "github.com/tendant/simple-derivative/pkg/derivative/broker/memory"
	"github.com/tendant/simple-derivative/pkg/derivative/callbackauth"
	repomemory "github.com/tendant/simple-derivative/pkg/derivative/repo/memory"
	storagememory "github.com/tendant/simple-derivative/pkg/derivative/storage/memory"
)

var fixedNow = time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)

type env struct {
	svc    derivative.Service
	repo   *repomemory.Repository
	store  *storagememory.Backend
	broker *brokermemory.Publisher
	tokens *callbackauth.Tokens
}

func newEnv(t *testing.T, opts ...derivative.Option) *env {
	t.Helper()
	e := &env{
		repo:   repomemory.New(),
		store:  storagememory.New(),
		broker: brokermemory.New(),
	}
	var err error
	e.tokens, err = callbackauth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)

	base := []derivative.Option{
		derivative.WithRepository(e.repo),
		derivative.WithPublisher(e.broker),
		derivative.WithBlobStore("public", e.store),
		derivative.WithTokenIssuer(e.tokens),
		derivative.WithURLResolver(derivative.NewURLResolver("http://localhost:8080", nil)),
		derivative.WithTarget("http://fcrepo:8080/fcrepo/rest"),
		derivative.WithClock(func() time.Time { return fixedNow }),
	}
	e.svc, err = derivative.New(append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func imageSchema() map[string]derivative.FieldDefinition {
	return map[string]derivative.FieldDefinition{
		"field_media_file": {Name: "field_media_file", Type: derivative.FieldTypeFile},
		"field_thumbnail":  {Name: "field_thumbnail", Type: derivative.FieldTypeImage},
		"field_ocr_file":   {Name: "field_ocr_file", Type: derivative.FieldTypeFile},
		"field_ocr_text":   {Name: "field_ocr_text", Type: derivative.FieldTypeTextLong},
	}
}

// seedMedia stores a source file and a media referencing it.
func seedMedia(t *testing.T, repo derivative.Repository) (*derivative.Media, *derivative.File) {
	t.Helper()
	ctx := context.Background()
	file := &derivative.File{
		ID:       uuid.New(),
		Filename: "scan.tiff",
		URI:      "public://2024-03/scan.tiff",
		MimeType: "image/tiff",
		Size:     2048,
	}
	require.NoError(t, repo.SaveFile(ctx, file))

	media := &derivative.Media{
		ID:   uuid.New(),
		Type: "image",
		Name: "Scan",
		Fields: derivative.Fields{
			Schema: imageSchema(),
			Values: map[string]derivative.FieldValue{
				"field_media_file": {TargetID: &file.ID},
			},
		},
	}
	require.NoError(t, repo.SaveEntity(ctx, media))

	loaded, err := repo.GetEntity(ctx, derivative.KindMedia, media.ID)
	require.NoError(t, err)
	return loaded.(*derivative.Media), file
}

func thumbnailAction() derivative.ActionConfig {
	return derivative.ActionConfig{
		ID:               "thumbnail",
		DestinationField: "field_thumbnail",
		Mimetype:         "image/png",
		Args:             "-thumbnail 100x100",
	}
}

func ocrAction() derivative.ActionConfig {
	return derivative.ActionConfig{
		ID:                   "ocr",
		Type:                 derivative.ActionOCR,
		DestinationField:     "field_ocr_file",
		DestinationTextField: "field_ocr_text",
	}
}
