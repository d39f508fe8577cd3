package derivative_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-derivative/pkg/derivative"
	brokermemory "github.com/tendant/simple-derivative/pkg/derivative/broker/memory"
	repomemory "github.com/tendant/simple-derivative/pkg/derivative/repo/memory"
)

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []derivative.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			expectError: true,
		},
		{
			name:        "repository without publisher should fail",
			options:     []derivative.Option{derivative.WithRepository(repomemory.New())},
			expectError: true,
		},
		{
			name: "repository and publisher should succeed",
			options: []derivative.Option{
				derivative.WithRepository(repomemory.New()),
				derivative.WithPublisher(brokermemory.New()),
			},
		},
		{
			name: "invalid action should fail",
			options: []derivative.Option{
				derivative.WithRepository(repomemory.New()),
				derivative.WithPublisher(brokermemory.New()),
				derivative.WithActions(derivative.ActionConfig{ID: "bad", DestinationField: "field_thumbnail", Mimetype: "png"}),
			},
			expectError: true,
		},
		{
			name: "duplicate action should fail",
			options: []derivative.Option{
				derivative.WithRepository(repomemory.New()),
				derivative.WithPublisher(brokermemory.New()),
				derivative.WithActions(thumbnailAction(), thumbnailAction()),
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := derivative.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func decodeEvent(t *testing.T, msg brokermemory.Published) derivative.EventDescriptor {
	t.Helper()
	var ev derivative.EventDescriptor
	require.NoError(t, json.Unmarshal(msg.Message.Body, &ev))
	return ev
}

func bearer(t *testing.T, msg brokermemory.Published) string {
	t.Helper()
	auth := msg.Message.Headers["Authorization"]
	require.True(t, strings.HasPrefix(auth, "Bearer "), auth)
	return strings.TrimPrefix(auth, "Bearer ")
}

func TestSaveEntity_MediaDispatchesJobs(t *testing.T) {
	metrics := newCountingMetrics()
	e := newEnv(t,
		derivative.WithIndexQueue("index"),
		derivative.WithActions(thumbnailAction(), ocrAction()),
		derivative.WithMetrics(metrics),
	)
	ctx := context.Background()

	source := &derivative.File{ID: uuid.New(), URI: "public://2024-03/scan.tiff", MimeType: "image/tiff"}
	require.NoError(t, e.repo.SaveFile(ctx, source))
	media := &derivative.Media{
		ID:     uuid.New(),
		Type:   "image",
		Fields: derivative.Fields{Schema: imageSchema(), Values: map[string]derivative.FieldValue{"field_media_file": {TargetID: &source.ID}}},
	}

	res, err := e.svc.SaveEntity(ctx, derivative.SaveEntityRequest{Entity: media})
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.NotNil(t, res.Event)
	assert.Equal(t, "Create", res.Event.Type)
	require.Len(t, res.Jobs, 2)

	msgs := e.broker.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "index", msgs[0].Queue)
	assert.Equal(t, derivative.DefaultDerivativeQueue, msgs[1].Queue)
	assert.Equal(t, derivative.DefaultOCRQueue, msgs[2].Queue)
	assert.Equal(t, "application/json", msgs[1].Message.ContentType)

	// the job token only grants the job's own destination
	job := res.Jobs[1]
	claims, err := e.tokens.Authorize(bearer(t, msgs[2]), job.Target)
	require.NoError(t, err)
	assert.Equal(t, derivative.SystemUser.ID.String(), claims.Subject)
	_, err = e.tokens.Authorize(bearer(t, msgs[2]), res.Jobs[0].Target)
	assert.Error(t, err)

	ev := decodeEvent(t, msgs[2])
	assert.Equal(t, "Activity", ev.Type)
	assert.Equal(t, job.DestinationURI, ev.Attachment.Content[derivative.JobKeyDestinationURI])
	assert.Equal(t, "public://2024-03/"+media.ID.String()+"-extracted_text.txt", ev.Attachment.Content[derivative.JobKeyFileUploadURI])
	assert.NotContains(t, ev.Attachment.Content, derivative.JobKeyQueue)

	res, err = e.svc.SaveEntity(ctx, derivative.SaveEntityRequest{Entity: media})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "Update", res.Event.Type)
	assert.True(t, *res.Event.Object.IsNewVersion)

	// index events are not derivative jobs
	assert.Zero(t, metrics.jobs["index"])
	assert.Equal(t, 2, metrics.jobs[derivative.DefaultDerivativeQueue])
	assert.Equal(t, 2, metrics.jobs[derivative.DefaultOCRQueue])
}

func TestSaveEntity_ConditionsAndNodes(t *testing.T) {
	docsOnly := thumbnailAction()
	docsOnly.Conditions.Bundles = []string{"document"}
	e := newEnv(t, derivative.WithActions(docsOnly))
	ctx := context.Background()

	media, _ := seedMedia(t, e.repo)
	res, err := e.svc.SaveEntity(ctx, derivative.SaveEntityRequest{Entity: media})
	require.NoError(t, err)
	assert.Empty(t, res.Jobs)
	assert.Nil(t, res.Event, "no index queue configured")

	res, err = e.svc.SaveEntity(ctx, derivative.SaveEntityRequest{Entity: &derivative.Node{ID: uuid.New(), Type: "document"}})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Empty(t, res.Jobs)
	assert.Empty(t, e.broker.Messages())

	_, err = e.svc.SaveEntity(ctx, derivative.SaveEntityRequest{})
	assert.ErrorIs(t, err, derivative.ErrUnsupportedEntity)
}

func TestSaveEntity_UnknownUser(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.SaveEntity(context.Background(), derivative.SaveEntityRequest{
		Entity: &derivative.Node{ID: uuid.New()},
		UserID: uuid.New(),
	})
	assert.ErrorIs(t, err, derivative.ErrUserNotFound)
}

func TestGenerateDerivative(t *testing.T) {
	e := newEnv(t, derivative.WithActions(thumbnailAction()))
	ctx := context.Background()
	media, _ := seedMedia(t, e.repo)

	user := &derivative.User{ID: uuid.New(), Name: "editor"}
	require.NoError(t, e.repo.SaveUser(ctx, user))

	job, err := e.svc.GenerateDerivative(ctx, derivative.GenerateDerivativeRequest{MediaID: media.ID, UserID: user.ID, ActionID: "thumbnail"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.AuthToken)
	assert.Equal(t, "public://2024-03/"+media.ID.String()+".bin", job.FileUploadURI)

	msgs := e.broker.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, job.AuthToken, bearer(t, msgs[0]))

	ev := decodeEvent(t, msgs[0])
	assert.Equal(t, "urn:uuid:"+user.ID.String(), ev.Actor.ID)
	assert.Equal(t, "editor", ev.Actor.Name)
	assert.Equal(t, "http://fcrepo:8080/fcrepo/rest", ev.Target)

	claims, err := e.tokens.Verify(job.AuthToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject)
	assert.Equal(t, "http://localhost:8080/user/"+user.ID.String(), claims.URL)
}

func TestGenerateDerivative_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown action", func(t *testing.T) {
		e := newEnv(t)
		media, _ := seedMedia(t, e.repo)
		_, err := e.svc.GenerateDerivative(ctx, derivative.GenerateDerivativeRequest{MediaID: media.ID, ActionID: "nope"})
		assert.ErrorIs(t, err, derivative.ErrActionNotFound)
	})

	t.Run("no source publishes nothing", func(t *testing.T) {
		e := newEnv(t, derivative.WithActions(thumbnailAction()))
		media := &derivative.Media{ID: uuid.New(), Type: "image", Fields: derivative.Fields{Schema: imageSchema()}}
		require.NoError(t, e.repo.SaveEntity(ctx, media))

		_, err := e.svc.GenerateDerivative(ctx, derivative.GenerateDerivativeRequest{MediaID: media.ID, ActionID: "thumbnail"})
		assert.ErrorIs(t, err, derivative.ErrSourceNotFound)
		assert.Empty(t, e.broker.Messages())
	})

	t.Run("dangling source publishes nothing", func(t *testing.T) {
		e := newEnv(t, derivative.WithActions(thumbnailAction()))
		missing := uuid.New()
		media := &derivative.Media{ID: uuid.New(), Type: "image", Fields: derivative.Fields{
			Schema: imageSchema(),
			Values: map[string]derivative.FieldValue{"field_media_file": {TargetID: &missing}},
		}}
		require.NoError(t, e.repo.SaveEntity(ctx, media))

		_, err := e.svc.GenerateDerivative(ctx, derivative.GenerateDerivativeRequest{MediaID: media.ID, ActionID: "thumbnail"})
		assert.ErrorIs(t, err, derivative.ErrSourceNotFound)
		assert.Empty(t, e.broker.Messages())
	})

	t.Run("broker down", func(t *testing.T) {
		metrics := newCountingMetrics()
		e := newEnv(t, derivative.WithActions(thumbnailAction()), derivative.WithMetrics(metrics))
		media, _ := seedMedia(t, e.repo)
		e.broker.FailWith(derivative.ErrBrokerUnavailable)

		_, err := e.svc.GenerateDerivative(ctx, derivative.GenerateDerivativeRequest{MediaID: media.ID, ActionID: "thumbnail"})
		assert.ErrorIs(t, err, derivative.ErrBrokerUnavailable)
		assert.True(t, derivative.IsRetryable(err))
		assert.Equal(t, 1, metrics.jobs[derivative.DefaultDerivativeQueue+":error"])
	})
}

func TestEmitEvent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	media, _ := seedMedia(t, e.repo)

	ev, err := e.svc.EmitEvent(ctx, derivative.EmitEventRequest{
		Kind:     derivative.KindMedia,
		EntityID: media.ID,
		Event:    derivative.EventUpdate,
		Queue:    "islandora-indexing-fcrepo-media",
		Data:     map[string]any{"fedora_uri": "http://fcrepo/rest/x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Update", ev.Type)

	msgs := e.broker.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "islandora-indexing-fcrepo-media", msgs[0].Queue)
	decoded := decodeEvent(t, msgs[0])
	assert.Equal(t, "http://fcrepo/rest/x", decoded.Attachment.Content["fedora_uri"])

	// lifecycle tokens carry no field grants
	_, err = e.tokens.Authorize(bearer(t, msgs[0]), derivative.CallbackTarget{EntityID: media.ID, Field: "field_thumbnail"})
	assert.Error(t, err)

	_, err = e.svc.EmitEvent(ctx, derivative.EmitEventRequest{Kind: derivative.KindMedia, EntityID: media.ID, Event: derivative.EventUpdate})
	assert.ErrorIs(t, err, derivative.ErrInvalidMessage)
	assert.False(t, derivative.IsRetryable(err))

	_, err = e.svc.EmitEvent(ctx, derivative.EmitEventRequest{Kind: derivative.KindNode, EntityID: uuid.New(), Event: derivative.EventUpdate, Queue: "q"})
	assert.ErrorIs(t, err, derivative.ErrEntityNotFound)
}

func TestDeleteEntity(t *testing.T) {
	e := newEnv(t, derivative.WithIndexQueue("index"))
	ctx := context.Background()
	node := &derivative.Node{ID: uuid.New(), Type: "page", Title: "Gone"}
	require.NoError(t, e.repo.SaveEntity(ctx, node))

	require.NoError(t, e.svc.DeleteEntity(ctx, derivative.DeleteEntityRequest{Kind: derivative.KindNode, EntityID: node.ID}))

	msgs := e.broker.Messages()
	require.Len(t, msgs, 1)
	ev := decodeEvent(t, msgs[0])
	assert.Equal(t, "Delete", ev.Type)
	assert.Equal(t, "Delete a Node", ev.Summary)

	err := e.svc.DeleteEntity(ctx, derivative.DeleteEntityRequest{Kind: derivative.KindNode, EntityID: node.ID})
	assert.ErrorIs(t, err, derivative.ErrEntityNotFound)
}

func TestActions(t *testing.T) {
	e := newEnv(t, derivative.WithActions(thumbnailAction(), ocrAction()))

	actions := e.svc.Actions()
	require.Len(t, actions, 2)
	actions[0].ID = "mutated"

	a, err := e.svc.Action("thumbnail")
	require.NoError(t, err)
	assert.Equal(t, derivative.DefaultDerivativeQueue, a.Queue)

	_, err = e.svc.Action("mutated")
	assert.ErrorIs(t, err, derivative.ErrActionNotFound)
}

func TestBrokerSettings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	settings := derivative.BrokerSettings{URL: "tcp://activemq:61613", User: "admin"}

	require.NoError(t, e.svc.ValidateBroker(ctx, settings))
	require.NoError(t, e.svc.ConfigureBroker(ctx, settings))
	assert.Equal(t, settings, e.broker.Settings())

	e.broker.RejectValidation(errors.New("auth failed"))
	err := e.svc.ConfigureBroker(ctx, derivative.BrokerSettings{URL: "tcp://other:61613"})
	assert.ErrorIs(t, err, derivative.ErrBrokerUnavailable)
	assert.Equal(t, settings, e.broker.Settings(), "rejected settings are not applied")
}
