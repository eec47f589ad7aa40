// Package pipeline drives a load run through its stages and tears cohorts
// back out of the warehouse in dependency order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/clinepi/cdipipe/internal/bulkcopy"
	"github.com/clinepi/cdipipe/internal/config"
	"github.com/clinepi/cdipipe/internal/deid"
	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/govern"
	"github.com/clinepi/cdipipe/internal/mapper"
	"github.com/clinepi/cdipipe/internal/reader"
	"github.com/clinepi/cdipipe/internal/repository"
	"github.com/clinepi/cdipipe/internal/schemadef"
	"github.com/clinepi/cdipipe/internal/sink"
	"github.com/clinepi/cdipipe/internal/transform"
)

// Stage names the phases of a load run, in order.
type Stage string

const (
	StageReading       Stage = "reading"
	StageDeidentifying Stage = "deidentifying"
	StageMapping       Stage = "mapping"
	StageTransforming  Stage = "transforming"
	StageLoading       Stage = "loading"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// Options tunes one load run.
type Options struct {
	// Reload deletes the cohort's rows from the destination table before
	// loading, so a re-run replaces rather than duplicates.
	Reload bool
}

// Orchestrator runs entity files through read, de-identify, map, transform
// and load, persisting a summary per run.
type Orchestrator struct {
	cfg       config.Config
	mapper    *mapper.IdentifierMapper
	mappings  repository.MappingRepository
	warehouse repository.WarehouseRepository
	runs      repository.LoadRunRepository
	uploader  bulkcopy.Uploader
	log       zerolog.Logger
}

func NewOrchestrator(cfg config.Config, m *mapper.IdentifierMapper,
	mappings repository.MappingRepository, warehouse repository.WarehouseRepository,
	runs repository.LoadRunRepository, uploader bulkcopy.Uploader, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		mapper:    m,
		mappings:  mappings,
		warehouse: warehouse,
		runs:      runs,
		uploader:  uploader,
		log:       log,
	}
}

// LoadFile runs one entity file end to end. The returned summary is also
// persisted; the error is the run's fatal error, nil when the run completed
// (even with rejected rows under the threshold).
func (o *Orchestrator) LoadFile(ctx context.Context, entity domain.EntityType, path string, opts Options) (*domain.RunSummary, error) {
	summary := domain.NewRunSummary(entity, path)
	log := o.log.With().
		Str("entity", string(entity)).
		Str("file", path).
		Str("run_id", summary.ID.String()).
		Logger()

	err := o.run(ctx, entity, path, opts, summary, log)
	summary.Finish(err)

	if recordErr := o.runs.Record(ctx, *summary); recordErr != nil {
		log.Error().Err(recordErr).Msg("failed to persist run summary")
	}

	if err != nil {
		log.Error().Err(err).
			Int("read", summary.Read).
			Int("rejected", summary.Rejected).
			Str("stage", string(StageFailed)).
			Msg("load run failed")
		return summary, err
	}
	log.Info().
		Int("read", summary.Read).
		Int("ok", summary.Ok).
		Int("rejected", summary.Rejected).
		Int("loaded", summary.Loaded).
		Str("stage", string(StageDone)).
		Msg("load run completed")
	return summary, nil
}

// entityFiles is the directory-load convention: one file per entity type,
// loaded in dependency order so facts find their patient and encounter
// mappings already minted.
var entityFiles = []struct {
	entity domain.EntityType
	name   string
}{
	{domain.EntityPatient, "patients.csv"},
	{domain.EntityEncounter, "encounters.csv"},
	{domain.EntityFact, "facts.csv"},
	{domain.EntityConcept, "concepts.csv"},
}

// mrnFileName is the optional multi-source patient identifier file loaded
// before any entity.
const mrnFileName = "mrn.csv"

// LoadDirectory runs every entity file present in dir, patients first,
// concepts last. An mrn.csv is mapped before anything loads. A fatal error
// in one entity does not stop the remaining entities; every summary is
// returned along with the collected fatal errors.
func (o *Orchestrator) LoadDirectory(ctx context.Context, dir string, opts Options) ([]*domain.RunSummary, error) {
	if mrnPath := filepath.Join(dir, mrnFileName); fileExists(mrnPath) {
		rows, err := o.mapper.LoadMRNs(ctx, mrnPath, rune(o.cfg.Pipeline.Delimiter[0]))
		if err != nil {
			return nil, fmt.Errorf("map patient identifiers from %s: %w", mrnPath, err)
		}
		o.log.Info().Str("file", mrnPath).Int("rows", rows).Msg("patient identifiers mapped")
	}

	var summaries []*domain.RunSummary
	var fatal []error
	for _, ef := range entityFiles {
		path := filepath.Join(dir, ef.name)
		if !fileExists(path) {
			continue
		}
		summary, err := o.LoadFile(ctx, ef.entity, path, opts)
		summaries = append(summaries, summary)
		if err != nil {
			// Entity-type failures stay inside their entity; later files
			// still get their run.
			fatal = append(fatal, err)
		}
	}
	return summaries, errors.Join(fatal...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (o *Orchestrator) run(ctx context.Context, entity domain.EntityType, path string, opts Options, summary *domain.RunSummary, log zerolog.Logger) error {
	delimiter := rune(o.cfg.Pipeline.Delimiter[0])
	schema := schemadef.For(entity)

	// The cohort must be cleared before any mapping is minted for this run;
	// a clear at load time would also wipe the mappings the run just created.
	if opts.Reload {
		if err := o.clearForReload(ctx, entity, log); err != nil {
			return err
		}
	}

	log.Info().Str("stage", string(StageMapping)).Msg("warming mapping cache")
	if err := o.warmCaches(ctx, entity); err != nil {
		return err
	}

	d := deid.New(entity, o.mapper, o.cfg.Deid.DateLayout, o.cfg.Deid.MaxShiftDays, o.cfg.Deid.Salt)
	tr := transform.New(entity, o.cfg.Pipeline.SourceSystem,
		strconv.Itoa(o.cfg.Pipeline.UploadID), o.cfg.Deid.DateLayout,
		o.cfg.Pipeline.FloatPrecision)
	gov := govern.New(entity, o.cfg.Pipeline.MaxErrorCount)

	deidSink := sink.NewFileSink(o.stagePath(entity, "deid"), delimiter)
	bulkSink := sink.NewFileSink(o.stagePath(entity, "bulk"), delimiter)
	errSink := sink.NewFileSink(o.stagePath(entity, "errors"), delimiter)
	defer deidSink.Close()
	defer errSink.Close()

	if err := deidSink.WriteHeader(d.Header()); err != nil {
		return err
	}
	if err := bulkSink.WriteHeader(tr.Header()); err != nil {
		return err
	}
	if err := errSink.WriteHeader(schema.ErrorHeader()); err != nil {
		return err
	}

	reject := func(stage Stage, values map[string]string, rowNum int, reasons []domain.ReasonCode) error {
		rejected := domain.RejectedRecord{
			Entity: entity, RowNumber: rowNum, Values: values, Reasons: reasons,
		}
		log.Debug().
			Str("stage", string(stage)).
			Int("row", rowNum).
			Str("reasons", rejected.ReasonList()).
			Msg("row rejected")
		if err := errSink.WriteRow(errorRow(schema, rejected)); err != nil {
			return err
		}
		summary.Rejected++
		return gov.RecordRejection()
	}

	log.Info().Str("stage", string(StageReading)).Msg("reading source file")
	src := reader.Open(path, entity, o.cfg.Pipeline.SourceSystem, delimiter)

	err := src.Each(ctx, func(rec domain.SourceRecord) error {
		summary.Read++

		clean, reasons, err := d.Apply(ctx, rec)
		if err != nil {
			return err
		}
		if len(reasons) > 0 {
			return reject(StageDeidentifying, rec.Values, rec.RowNumber, reasons)
		}
		summary.Ok++
		if err := deidSink.WriteRow(d.Row(clean)); err != nil {
			return err
		}

		row, reasons := tr.Transform(clean, summary.Mapped+1)
		if len(reasons) > 0 {
			return reject(StageTransforming, rec.Values, rec.RowNumber, reasons)
		}
		if err := bulkSink.WriteRow(row); err != nil {
			return err
		}
		summary.Mapped++
		return nil
	})
	if err != nil {
		bulkSink.Close()
		return err
	}
	if err := bulkSink.Close(); err != nil {
		return err
	}

	if summary.Mapped == 0 {
		// Nothing survived; skip the COPY rather than load an empty file.
		return nil
	}

	log.Info().Str("stage", string(StageLoading)).
		Str("table", entity.TargetTable()).
		Msg("bulk loading")
	loaded, err := o.uploader.Upload(ctx, bulkSink.Path(), entity.TargetTable(), delimiter)
	if err != nil {
		return err
	}
	summary.Loaded = int(loaded)
	return nil
}

// clearForReload removes the cohort's prior rows for the entity and whatever
// depends on them, facts first, mappings alongside their dimension rows.
func (o *Orchestrator) clearForReload(ctx context.Context, entity domain.EntityType, log zerolog.Logger) error {
	source := o.cfg.Pipeline.SourceSystem

	type step struct {
		table string
		fn    func(context.Context) (int64, error)
	}
	factStep := step{domain.EntityFact.TargetTable(), func(ctx context.Context) (int64, error) {
		return o.warehouse.DeleteBySource(ctx, domain.EntityFact, source)
	}}
	encounterSteps := []step{
		{domain.EntityEncounter.MappingTable(), func(ctx context.Context) (int64, error) {
			return o.mappings.DeleteBySource(ctx, domain.EntityEncounter, source)
		}},
		{domain.EntityEncounter.TargetTable(), func(ctx context.Context) (int64, error) {
			return o.warehouse.DeleteBySource(ctx, domain.EntityEncounter, source)
		}},
	}
	patientSteps := []step{
		{domain.EntityPatient.MappingTable(), func(ctx context.Context) (int64, error) {
			return o.mappings.DeleteBySource(ctx, domain.EntityPatient, source)
		}},
		{domain.EntityPatient.TargetTable(), func(ctx context.Context) (int64, error) {
			return o.warehouse.DeleteBySource(ctx, domain.EntityPatient, source)
		}},
	}

	var steps []step
	switch entity {
	case domain.EntityFact:
		steps = []step{factStep}
	case domain.EntityEncounter:
		steps = append([]step{factStep}, encounterSteps...)
	case domain.EntityPatient:
		steps = append(append([]step{factStep}, encounterSteps...), patientSteps...)
	case domain.EntityConcept:
		steps = []step{{domain.EntityConcept.TargetTable(), func(ctx context.Context) (int64, error) {
			return o.warehouse.DeleteBySource(ctx, domain.EntityConcept, source)
		}}}
	}

	for _, s := range steps {
		deleted, err := s.fn(ctx)
		if err != nil {
			return err
		}
		log.Info().Str("table", s.table).Int64("deleted", deleted).
			Msg("cleared cohort rows before reload")
	}
	return nil
}

// warmCaches preloads the mapping caches a de-identifier for this entity
// consults. Facts read both; encounters read patients.
func (o *Orchestrator) warmCaches(ctx context.Context, entity domain.EntityType) error {
	switch entity {
	case domain.EntityPatient:
		return o.mapper.Warm(ctx, domain.EntityPatient)
	case domain.EntityEncounter, domain.EntityFact:
		if err := o.mapper.Warm(ctx, domain.EntityPatient); err != nil {
			return err
		}
		return o.mapper.Warm(ctx, domain.EntityEncounter)
	}
	return nil
}

func (o *Orchestrator) stagePath(entity domain.EntityType, stage string) string {
	return filepath.Join(o.cfg.OutputDir, fmt.Sprintf("%s.%s.csv", entity, stage))
}

// errorRow renders a rejected record for the error file: the input columns in
// order, then the reason list and the source row number.
func errorRow(schema schemadef.Schema, rec domain.RejectedRecord) []string {
	row := make([]string, 0, len(schema.InputHeader)+2)
	for _, name := range schema.InputHeader {
		row = append(row, rec.Values[name])
	}
	return append(row, rec.ReasonList(), strconv.Itoa(rec.RowNumber))
}
