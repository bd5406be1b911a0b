package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
)

const (
	defaultCatalogJobTimeout = 5 * time.Minute
	catalogContentType       = "application/pdf"
	catalogTracerName        = "github.com/vitrina/api/internal/services"
)

// Catalog generation steps, in the order they are reported.
const (
	CatalogStepStarting        = "starting"
	CatalogStepValidating      = "validating"
	CatalogStepProcessingLogo  = "processing-logo"
	CatalogStepFetchingData    = "fetching-data"
	CatalogStepDataFetched     = "data-fetched"
	CatalogStepStartingPDF     = "starting-pdf"
	CatalogStepSavingPDF       = "saving-pdf"
	CatalogStepFinalizing      = "finalizing"
	CatalogStepCompleted       = "completed"
	CatalogStepError           = "error"
	catalogRenderProgressStart = 70
	catalogRenderProgressSpan  = 27
)

// ProgressRooms creates rooms for catalog jobs and broadcasts their progress.
type ProgressRooms interface {
	ProgressNotifier
	CreateRoom(ctx context.Context) (domain.ProgressRoom, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Variants    repositories.VariantRepository
	Rates       ExchangeRateProvider
	Renderer    CatalogRenderer
	Artifacts   ArtifactStore
	Rooms       ProgressRooms
	LogoObject  string
	JobTimeout  time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	// Meter records generation duration and outcome; the global meter provider is used when nil.
	Meter       metric.Meter
}

type catalogService struct {
	catalog    repositories.CatalogRepository
	variants   repositories.VariantRepository
	rates      ExchangeRateProvider
	renderer   CatalogRenderer
	artifacts  ArtifactStore
	rooms      ProgressRooms
	logoObject string
	jobTimeout time.Duration

	// A selection larger than these limits is rejected, never truncated.
	productLimit int
	variantLimit int

	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
	tracer trace.Tracer
	jobs   sync.WaitGroup

	duration metric.Float64Histogram
	outcomes metric.Int64Counter
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("catalog service: variant repository is required")
	}
	if deps.Rates == nil {
		return nil, errors.New("catalog service: exchange rate provider is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("catalog service: renderer is required")
	}
	if deps.Artifacts == nil {
		return nil, errors.New("catalog service: artifact store is required")
	}
	if deps.Rooms == nil {
		return nil, errors.New("catalog service: progress rooms are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := deps.JobTimeout
	if timeout <= 0 {
		timeout = defaultCatalogJobTimeout
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(catalogTracerName)
	}
	duration, err := meter.Float64Histogram(
		"catalog.generation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of catalog generation jobs"),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog service: register duration metric: %w", err)
	}
	outcomes, err := meter.Int64Counter(
		"catalog.generation.jobs",
		metric.WithDescription("Catalog generation jobs by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog service: register outcome metric: %w", err)
	}
	return &catalogService{
		catalog:   deps.Catalog,
		variants:  deps.Variants,
		rates:     deps.Rates,
		renderer:  deps.Renderer,
		artifacts: deps.Artifacts,
		rooms:     deps.Rooms,
		clock: func() time.Time {
			return clock().UTC()
		},
		logoObject:   strings.TrimSpace(deps.LogoObject),
		jobTimeout:   timeout,
		productLimit: maxCatalogProducts,
		variantLimit: maxCatalogVariants,
		newID:        idGen,
		logger:       logger,
		tracer:       otel.Tracer(catalogTracerName),
		duration:     duration,
		outcomes:     outcomes,
	}, nil
}

// StartGeneration validates the request, opens a progress room and runs the generation in the background.
// The job outlives the caller's request but not the configured job timeout.
func (s *catalogService) StartGeneration(ctx context.Context, req CatalogRequest) (CatalogJob, error) {
	normalised, err := NormaliseCatalogRequest(req)
	if err != nil {
		return CatalogJob{}, err
	}
	room, err := s.rooms.CreateRoom(ctx)
	if err != nil {
		return CatalogJob{}, fmt.Errorf("catalog: create progress room: %w", err)
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.jobTimeout)
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer cancel()
		if _, err := s.Generate(jobCtx, room.ID, normalised); err != nil {
			s.logger(jobCtx, "catalog.generation_failed", map[string]any{
				"roomId": room.ID,
				"error":  err.Error(),
			})
		}
	}()

	s.logger(ctx, "catalog.generation_started", map[string]any{"roomId": room.ID})
	return CatalogJob{RoomID: room.ID, ExpiresAt: room.ExpiresAt}, nil
}

// Generate runs the whole pipeline synchronously, reporting each step to roomID.
func (s *catalogService) Generate(ctx context.Context, roomID string, req CatalogRequest) (artifact CatalogArtifact, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.generate", trace.WithAttributes(attribute.String("catalog.room_id", roomID)))
	started := s.clock()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.rooms.EmitProgress(ctx, roomID, CatalogStepError, 0, map[string]any{"message": err.Error()})
		}
		s.recordOutcome(ctx, s.clock().Sub(started), err)
		span.End()
	}()

	s.rooms.EmitProgress(ctx, roomID, CatalogStepStarting, 0, nil)

	s.rooms.EmitProgress(ctx, roomID, CatalogStepValidating, 10, nil)
	req, err = NormaliseCatalogRequest(req)
	if err != nil {
		return CatalogArtifact{}, err
	}

	s.rooms.EmitProgress(ctx, roomID, CatalogStepProcessingLogo, 20, nil)
	logo := s.loadLogo(ctx)

	s.rooms.EmitProgress(ctx, roomID, CatalogStepFetchingData, 30, nil)
	doc, err := s.Assemble(ctx, req)
	if err != nil {
		return CatalogArtifact{}, err
	}
	doc.LogoDataURI = logo
	products := countCatalogProducts(doc)
	s.rooms.EmitProgress(ctx, roomID, CatalogStepDataFetched, 50, map[string]any{
		"categories": len(doc.Categories),
		"products":   products,
	})
	span.SetAttributes(attribute.Int("catalog.products", products))

	s.rooms.EmitProgress(ctx, roomID, CatalogStepStartingPDF, catalogRenderProgressStart, nil)
	pdf, err := s.render(ctx, roomID, doc)
	if err != nil {
		return CatalogArtifact{}, err
	}

	s.rooms.EmitProgress(ctx, roomID, CatalogStepSavingPDF, 98, nil)
	name := s.artifactName(doc.GeneratedAt)
	url, err := s.artifacts.SaveArtifact(ctx, name, catalogContentType, pdf)
	if err != nil {
		return CatalogArtifact{}, fmt.Errorf("catalog: save artifact: %w", err)
	}

	s.rooms.EmitProgress(ctx, roomID, CatalogStepFinalizing, 99, nil)
	artifact = CatalogArtifact{FileName: name, URL: url}
	s.rooms.EmitProgress(ctx, roomID, CatalogStepCompleted, 100, map[string]any{
		"fileName": artifact.FileName,
		"url":      artifact.URL,
	})
	s.logger(ctx, "catalog.generated", map[string]any{
		"roomId":   roomID,
		"fileName": artifact.FileName,
		"products": products,
		"bytes":    len(pdf),
	})
	return artifact, nil
}

// Assemble builds the priced catalog document without rendering it.
func (s *catalogService) Assemble(ctx context.Context, req CatalogRequest) (CatalogDocument, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.assemble")
	defer span.End()

	req, err := NormaliseCatalogRequest(req)
	if err != nil {
		return CatalogDocument{}, err
	}
	doc, err := s.assemble(ctx, req)
	if err != nil {
		span.RecordError(err)
		return CatalogDocument{}, s.mapRepositoryError(err)
	}
	if countCatalogProducts(doc) == 0 {
		return CatalogDocument{}, ErrCatalogEmpty
	}
	return doc, nil
}

// Wait blocks until every background generation has finished or ctx is done.
func (s *catalogService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *catalogService) render(ctx context.Context, roomID string, doc CatalogDocument) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.render")
	defer span.End()

	last := catalogRenderProgressStart
	pdf, err := s.renderer.Render(ctx, doc, func(step string, percent int, message string) {
		scaled := catalogRenderProgressStart + clampPercent(percent)*catalogRenderProgressSpan/100
		if scaled < last {
			scaled = last
		}
		last = scaled
		var data map[string]any
		if message != "" {
			data = map[string]any{"message": message}
		}
		s.rooms.EmitProgress(ctx, roomID, step, scaled, data)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("catalog: render: %w", err)
	}
	if len(pdf) == 0 {
		return nil, errors.New("catalog: render: renderer returned an empty document")
	}
	return pdf, nil
}

// loadLogo embeds the configured logo as a data URI. A missing logo never fails generation.
func (s *catalogService) loadLogo(ctx context.Context) string {
	if s.logoObject == "" {
		return ""
	}
	data, err := s.artifacts.ReadAsset(ctx, s.logoObject)
	if err != nil || len(data) == 0 {
		fields := map[string]any{"object": s.logoObject}
		if err != nil {
			fields["error"] = err.Error()
		}
		s.logger(ctx, "catalog.logo_unavailable", fields)
		return ""
	}
	contentType := http.DetectContentType(data)
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func (s *catalogService) artifactName(at time.Time) string {
	return fmt.Sprintf("catalogs/%04d/%02d/catalog-%s-%s.pdf",
		at.Year(), int(at.Month()), at.Format("20060102T150405Z"), strings.ToLower(s.newID()))
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("catalog: repository unavailable: %w", err)
	}
	return err
}

func (s *catalogService) recordOutcome(ctx context.Context, elapsed time.Duration, err error) {
	outcome := "completed"
	switch {
	case errors.Is(err, ErrCatalogInvalidRequest), errors.Is(err, ErrCatalogEmpty):
		outcome = "rejected"
	case err != nil:
		outcome = "failed"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	s.duration.Record(ctx, elapsed.Seconds(), attrs)
	s.outcomes.Add(ctx, 1, attrs)
}
