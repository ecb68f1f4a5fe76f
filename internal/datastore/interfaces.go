// interfaces.go: datastore interface and the gorm implementation shared by backends
package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/etl"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// Default and maximum page sizes for list queries.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000

	slowQueryThreshold = 200 * time.Millisecond
)

// ErrNotFound is returned when a profile or run does not exist.
var ErrNotFound = errors.NewStd("record not found")

// Interface abstracts the database backend.
type Interface interface {
	Open() error
	Close() error
	SaveProfiles(ctx context.Context, runID string, profiles []etl.EntityProfile) error
	GetProfile(ctx context.Context, hospitalID string) (HospitalProfile, error)
	ListProfiles(ctx context.Context, limit, offset int) ([]HospitalProfile, error)
	SavePrediction(ctx context.Context, rec *PredictionRecord) error
	ListPredictions(ctx context.Context, filter PredictionFilter) ([]PredictionRecord, error)
	SaveRun(ctx context.Context, run *ETLRun) error
	GetRun(ctx context.Context, id string) (ETLRun, error)
}

// DataStore implements the queries of Interface on a gorm handle.
type DataStore struct {
	DB *gorm.DB
}

// New returns the backend enabled in settings. SQLite wins when both are enabled.
func New(settings *conf.Settings) (Interface, error) {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings.Output.SQLite, Debug: settings.Debug}, nil
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings.Output.MySQL, Debug: settings.Debug}, nil
	default:
		return nil, errors.Newf("no datastore enabled").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func newGormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold)}
}

func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&HospitalProfile{}, &PredictionRecord{}, &ETLRun{}); err != nil {
		return dbError(fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err), "migrate")
	}
	if debug {
		GetLogger().Debug("database initialized",
			logger.String("type", dbType),
			logger.String("connection", connectionInfo))
	}
	return nil
}

func dbError(err error, op string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

func notFound(kind, id string) error {
	return errors.New(fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Build()
}

func (ds *DataStore) ready() error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// SaveProfiles upserts profiles by hospital id in one transaction.
func (ds *DataStore) SaveProfiles(ctx context.Context, runID string, profiles []etl.EntityProfile) error {
	if err := ds.ready(); err != nil {
		return err
	}
	if len(profiles) == 0 {
		return nil
	}

	rows := make([]HospitalProfile, len(profiles))
	for i, p := range profiles {
		rows[i] = profileRow(p, runID)
	}

	err := ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "hospital_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"target", "avg_img_mean", "avg_img_contrast",
				"primary_modality", "scan_count", "run_id", "updated_at",
			}),
		}).CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return dbError(fmt.Errorf("saving %d profiles: %w", len(rows), err), "save_profiles")
	}
	return nil
}

// GetProfile returns one profile by hospital id.
func (ds *DataStore) GetProfile(ctx context.Context, hospitalID string) (HospitalProfile, error) {
	if err := ds.ready(); err != nil {
		return HospitalProfile{}, err
	}
	var p HospitalProfile
	err := ds.DB.WithContext(ctx).Where("hospital_id = ?", hospitalID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return HospitalProfile{}, notFound("profile", hospitalID)
	}
	if err != nil {
		return HospitalProfile{}, dbError(err, "get_profile")
	}
	return p, nil
}

// ListProfiles returns profiles ordered by hospital id.
func (ds *DataStore) ListProfiles(ctx context.Context, limit, offset int) ([]HospitalProfile, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}
	var out []HospitalProfile
	err := ds.DB.WithContext(ctx).
		Order("hospital_id ASC").
		Limit(clampLimit(limit)).
		Offset(max(offset, 0)).
		Find(&out).Error
	if err != nil {
		return nil, dbError(err, "list_profiles")
	}
	return out, nil
}

// SavePrediction appends an audit row. CreatedAt is set when zero.
func (ds *DataStore) SavePrediction(ctx context.Context, rec *PredictionRecord) error {
	if err := ds.ready(); err != nil {
		return err
	}
	if err := ds.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return dbError(err, "save_prediction")
	}
	return nil
}

// ListPredictions returns audit rows newest first.
func (ds *DataStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]PredictionRecord, error) {
	if err := ds.ready(); err != nil {
		return nil, err
	}
	q := ds.DB.WithContext(ctx).Model(&PredictionRecord{})
	if filter.HospitalID != "" {
		q = q.Where("hospital_id = ?", filter.HospitalID)
	}
	if filter.RiskLevel != "" {
		q = q.Where("risk_level = ?", filter.RiskLevel)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}

	var out []PredictionRecord
	err := q.Order("created_at DESC").Order("id DESC").
		Limit(clampLimit(filter.Limit)).
		Offset(max(filter.Offset, 0)).
		Find(&out).Error
	if err != nil {
		return nil, dbError(err, "list_predictions")
	}
	return out, nil
}

// SaveRun inserts or replaces a run. An empty ID is filled with a new UUID.
func (ds *DataStore) SaveRun(ctx context.Context, run *ETLRun) error {
	if err := ds.ready(); err != nil {
		return err
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if err := ds.DB.WithContext(ctx).Save(run).Error; err != nil {
		return dbError(err, "save_run")
	}
	return nil
}

// GetRun returns a run by id.
func (ds *DataStore) GetRun(ctx context.Context, id string) (ETLRun, error) {
	if err := ds.ready(); err != nil {
		return ETLRun{}, err
	}
	var run ETLRun
	err := ds.DB.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ETLRun{}, notFound("run", id)
	}
	if err != nil {
		return ETLRun{}, dbError(err, "get_run")
	}
	return run, nil
}

// closeDB closes the connection pool behind db.
func closeDB(db *gorm.DB) error {
	if db == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}
