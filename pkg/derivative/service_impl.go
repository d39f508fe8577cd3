package derivative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/tendant/simple-derivative/pkg/derivative"

	// DefaultScheme is the storage scheme used when nothing else names one.
	DefaultScheme = "public"

	// DefaultCallbackExpiry bounds signed callback URLs when no token
	// issuer supplies an expiry.
	DefaultCallbackExpiry = 2 * time.Hour
)

// service implements the Service interface
type service struct {
	repository    Repository
	publisher     Publisher
	validator     BrokerValidator
	blobStores    map[string]BlobStore
	resolver      URLResolver
	signer        CallbackSigner
	tokens        TokenIssuer
	actions       []ActionConfig
	target        string
	defaultScheme string
	indexQueue    string
	systemUser    *User
	logger        *slog.Logger
	now           func() time.Time
	metrics       MetricsRecorder
	guard         IngestGuard
	tracer        trace.Tracer

	events   *EventBuilder
	jobs     *JobBuilder
	ingester *Ingester

	// serializes broker reconfiguration
	brokerMu sync.Mutex
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the content repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithPublisher sets the broker publisher
func WithPublisher(p Publisher) Option {
	return func(s *service) {
		s.publisher = p
	}
}

// WithBrokerValidator sets the validator used before broker settings are
// accepted. The publisher is used when it validates itself.
func WithBrokerValidator(v BrokerValidator) Option {
	return func(s *service) {
		s.validator = v
	}
}

// WithBlobStore registers a blob store for a URI scheme
func WithBlobStore(scheme string, store BlobStore) Option {
	return func(s *service) {
		if s.blobStores == nil {
			s.blobStores = make(map[string]BlobStore)
		}
		s.blobStores[scheme] = store
	}
}

// WithURLResolver sets the resolver for entity, file and callback URLs
func WithURLResolver(r URLResolver) Option {
	return func(s *service) {
		s.resolver = r
	}
}

// WithCallbackSigner signs callback URLs handed to workers
func WithCallbackSigner(signer CallbackSigner) Option {
	return func(s *service) {
		s.signer = signer
	}
}

// WithTokenIssuer sets the issuer of callback bearer tokens
func WithTokenIssuer(tokens TokenIssuer) Option {
	return func(s *service) {
		s.tokens = tokens
	}
}

// WithActions adds derivative actions. They are validated by New.
func WithActions(actions ...ActionConfig) Option {
	return func(s *service) {
		s.actions = append(s.actions, actions...)
	}
}

// WithTarget sets the binary store root reported in events
func WithTarget(target string) Option {
	return func(s *service) {
		s.target = target
	}
}

// WithDefaultScheme sets the storage scheme used when none is configured
func WithDefaultScheme(scheme string) Option {
	return func(s *service) {
		s.defaultScheme = scheme
	}
}

// WithIndexQueue sets the queue Create, Update and Delete events go to.
// Without one, saves only run derivative reactions.
func WithIndexQueue(queue string) Option {
	return func(s *service) {
		s.indexQueue = queue
	}
}

// WithSystemUser sets the actor used when a request names no user
func WithSystemUser(u *User) Option {
	return func(s *service) {
		s.systemUser = u
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock sets the time source used for path templates
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m MetricsRecorder) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithIngestGuard installs a check run before each callback is applied
func WithIngestGuard(g IngestGuard) Option {
	return func(s *service) {
		s.guard = g
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		blobStores:    make(map[string]BlobStore),
		defaultScheme: DefaultScheme,
		systemUser:    &SystemUser,
		now:           time.Now,
		metrics:       noopMetrics{},
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.resolver == nil {
		s.resolver = NewURLResolver("http://localhost:8080", nil)
	}
	if s.validator == nil {
		if v, ok := s.publisher.(BrokerValidator); ok {
			s.validator = v
		}
	}

	seen := make(map[string]bool, len(s.actions))
	for i := range s.actions {
		a := &s.actions[i]
		a.ApplyDefaults()
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if seen[a.ID] {
			return nil, &ActionError{ActionID: a.ID, Err: fmt.Errorf("duplicate action id")}
		}
		seen[a.ID] = true
	}

	expiry := DefaultCallbackExpiry
	if s.tokens != nil {
		expiry = s.tokens.Expiry()
	}

	s.tracer = otel.Tracer(tracerName)
	s.events = &EventBuilder{Resolver: s.resolver, Target: s.target}
	s.jobs = &JobBuilder{
		Resolver:      s.resolver,
		Signer:        s.signer,
		SignExpiry:    expiry,
		DefaultScheme: s.defaultScheme,
		Now:           s.now,
	}
	s.ingester = NewIngester(s.repository, s.blobStores, s.defaultScheme, s.logger)
	s.ingester.guard = s.guard
	s.ingester.metrics = s.metrics

	return s, nil
}

// Event operations

func (s *service) EmitEvent(ctx context.Context, req EmitEventRequest) (*EventDescriptor, error) {
	ctx, span := s.tracer.Start(ctx, "derivative.EmitEvent", trace.WithAttributes(
		attribute.String("entity.kind", string(req.Kind)),
		attribute.String("entity.id", req.EntityID.String()),
		attribute.String("queue", req.Queue),
	))
	defer span.End()

	entity, err := s.repository.GetEntity(ctx, req.Kind, req.EntityID)
	if err != nil {
		return nil, traceErr(span, err)
	}
	user, err := s.user(ctx, req.UserID)
	if err != nil {
		return nil, traceErr(span, err)
	}
	ev, err := s.emit(ctx, req.Queue, req.Event, entity, user, req.Data)
	return ev, traceErr(span, err)
}

func (s *service) SaveEntity(ctx context.Context, req SaveEntityRequest) (*SaveEntityResult, error) {
	if req.Entity == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrUnsupportedEntity)
	}
	kind, id := req.Entity.Kind(), req.Entity.EntityID()

	ctx, span := s.tracer.Start(ctx, "derivative.SaveEntity", trace.WithAttributes(
		attribute.String("entity.kind", string(kind)),
		attribute.String("entity.id", id.String()),
	))
	defer span.End()

	user, err := s.user(ctx, req.UserID)
	if err != nil {
		return nil, traceErr(span, err)
	}

	_, err = s.repository.GetEntity(ctx, kind, id)
	created := errors.Is(err, ErrEntityNotFound)
	if err != nil && !created {
		return nil, traceErr(span, err)
	}
	if err := s.repository.SaveEntity(ctx, req.Entity); err != nil {
		return nil, traceErr(span, fmt.Errorf("save %s %s: %w", kind, id, err))
	}
	// reload for revision count and resolved source
	entity, err := s.repository.GetEntity(ctx, kind, id)
	if err != nil {
		return nil, traceErr(span, err)
	}

	result := &SaveEntityResult{Created: created}
	if s.indexQueue != "" {
		event := EventUpdate
		if created {
			event = EventCreate
		}
		if result.Event, err = s.emit(ctx, s.indexQueue, event, entity, user, nil); err != nil {
			return nil, traceErr(span, err)
		}
	}

	if kind != KindMedia {
		return result, nil
	}
	for i := range s.actions {
		action := &s.actions[i]
		if !action.Matches(entity) {
			continue
		}
		job, err := s.dispatchJob(ctx, entity, user, action)
		if err != nil {
			return nil, traceErr(span, err)
		}
		result.Jobs = append(result.Jobs, job)
	}
	return result, nil
}

func (s *service) DeleteEntity(ctx context.Context, req DeleteEntityRequest) error {
	ctx, span := s.tracer.Start(ctx, "derivative.DeleteEntity", trace.WithAttributes(
		attribute.String("entity.kind", string(req.Kind)),
		attribute.String("entity.id", req.EntityID.String()),
	))
	defer span.End()

	entity, err := s.repository.GetEntity(ctx, req.Kind, req.EntityID)
	if err != nil {
		return traceErr(span, err)
	}
	user, err := s.user(ctx, req.UserID)
	if err != nil {
		return traceErr(span, err)
	}
	if err := s.repository.DeleteEntity(ctx, req.Kind, req.EntityID); err != nil {
		return traceErr(span, err)
	}
	if s.indexQueue == "" {
		return nil
	}
	_, err = s.emit(ctx, s.indexQueue, EventDelete, entity, user, nil)
	return traceErr(span, err)
}

// Derivative operations

func (s *service) GenerateDerivative(ctx context.Context, req GenerateDerivativeRequest) (*JobDescriptor, error) {
	ctx, span := s.tracer.Start(ctx, "derivative.GenerateDerivative", trace.WithAttributes(
		attribute.String("media.id", req.MediaID.String()),
		attribute.String("action", req.ActionID),
	))
	defer span.End()

	action, err := s.Action(req.ActionID)
	if err != nil {
		return nil, traceErr(span, err)
	}
	entity, err := s.repository.GetEntity(ctx, KindMedia, req.MediaID)
	if err != nil {
		return nil, traceErr(span, err)
	}
	user, err := s.user(ctx, req.UserID)
	if err != nil {
		return nil, traceErr(span, err)
	}
	job, err := s.dispatchJob(ctx, entity, user, action)
	return job, traceErr(span, err)
}

func (s *service) Ingest(ctx context.Context, res CallbackResult) error {
	ctx, span := s.tracer.Start(ctx, "derivative.Ingest", trace.WithAttributes(
		attribute.String("media.id", res.TargetID.String()),
		attribute.String("field", res.DestinationField),
		attribute.Int("body.size", len(res.Body)),
	))
	defer span.End()

	return traceErr(span, s.ingester.Ingest(ctx, res))
}

func (s *service) OpenFile(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	scheme, key, err := SplitStorageURI(uri, s.defaultScheme)
	if err != nil {
		return nil, "", err
	}
	store, ok := s.blobStores[scheme]
	if !ok {
		return nil, "", &StorageError{Scheme: scheme, Key: key, Op: "download", Err: ErrStorageBackendNotFound}
	}
	rc, err := store.Download(ctx, key)
	if err != nil {
		return nil, "", &StorageError{Scheme: scheme, Key: key, Op: "download", Err: err}
	}

	mimeType := contentType("", key)
	if file, err := s.repository.FindFileByURI(ctx, StorageURI(scheme, key)); err == nil && file.MimeType != "" {
		mimeType = file.MimeType
	}
	return rc, mimeType, nil
}

// Action configuration

func (s *service) Actions() []ActionConfig {
	out := make([]ActionConfig, len(s.actions))
	copy(out, s.actions)
	return out
}

func (s *service) Action(id string) (*ActionConfig, error) {
	for i := range s.actions {
		if s.actions[i].ID == id {
			a := s.actions[i]
			return &a, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrActionNotFound, id)
}

// Broker settings

func (s *service) ValidateBroker(ctx context.Context, settings BrokerSettings) error {
	if s.validator == nil {
		return fmt.Errorf("broker validation not supported")
	}
	return s.validator.Validate(ctx, settings)
}

func (s *service) ConfigureBroker(ctx context.Context, settings BrokerSettings) error {
	s.brokerMu.Lock()
	defer s.brokerMu.Unlock()

	c, ok := s.publisher.(BrokerConfigurer)
	if !ok {
		return fmt.Errorf("publisher does not accept new settings")
	}
	if err := s.ValidateBroker(ctx, settings); err != nil {
		return err
	}
	if err := c.Configure(settings); err != nil {
		return err
	}
	s.logger.Info("broker settings updated", "url", settings.URL)
	return nil
}

// dispatchJob builds the job for action and publishes it with a token
// bound to the job's callback target.
func (s *service) dispatchJob(ctx context.Context, entity Entity, user *User, action *ActionConfig) (*JobDescriptor, error) {
	job, err := s.jobs.Build(entity, action)
	if err != nil {
		s.logger.Error("unable to build derivative job", "id", entity.EntityID(), "action", action.ID, "err", err)
		return nil, err
	}

	token, err := s.issueToken(user, job.Target.EntityID, job.Target.Fields())
	if err != nil {
		return nil, &JobError{EntityID: entity.EntityID(), Op: "token", Err: err}
	}
	job.AuthToken = token

	ev := s.events.Build(entity, user, job.Data())
	err = s.publish(ctx, job.Queue, ev, token)
	s.metrics.JobDispatched(job.Queue, err)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("derivative job dispatched", "id", entity.EntityID(), "action", action.ID, "queue", job.Queue)
	return job, nil
}

func (s *service) emit(ctx context.Context, queue string, event EventType, entity Entity, user *User, data map[string]any) (*EventDescriptor, error) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload[JobKeyEvent] = string(event)

	token, err := s.issueToken(user, entity.EntityID(), nil)
	if err != nil {
		return nil, err
	}
	ev := s.events.Build(entity, user, payload)
	if err := s.publish(ctx, queue, ev, token); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *service) publish(ctx context.Context, queue string, ev *EventDescriptor, token string) error {
	if queue == "" {
		return &PublishError{Queue: queue, Err: fmt.Errorf("%w: no queue", ErrInvalidMessage)}
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return &PublishError{Queue: queue, Err: fmt.Errorf("%w: %v", ErrInvalidMessage, err)}
	}
	msg := Message{Body: body, ContentType: "application/json", Headers: map[string]string{}}
	if token != "" {
		msg.Headers["Authorization"] = "Bearer " + token
	}

	if err := s.publisher.Publish(ctx, queue, msg); err != nil {
		s.logger.Error("unable to publish message", "queue", queue, "retryable", IsRetryable(err), "err", err)
		return err
	}
	return nil
}

func (s *service) issueToken(user *User, target uuid.UUID, fields []string) (string, error) {
	if s.tokens == nil {
		return "", nil
	}
	return s.tokens.IssueToken(CallbackClaims{
		Subject: user.ID.String(),
		Name:    user.Name,
		URL:     s.resolver.EntityURL(user),
		Target:  target,
		Fields:  fields,
	})
}

func (s *service) user(ctx context.Context, id uuid.UUID) (*User, error) {
	if id == uuid.Nil {
		return s.systemUser, nil
	}
	return s.repository.GetUser(ctx, id)
}

func traceErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
