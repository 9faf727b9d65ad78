package domain

import (
	"fmt"
	"time"
)

// EntityKind is the lowercased class name of a protected entity. It is part of
// the permission group naming scheme and must not change.
type EntityKind string

const (
	KindExperimentSet EntityKind = "experimentset"
	KindExperiment    EntityKind = "experiment"
	KindScoreSet      EntityKind = "scoreset"
)

var EntityKinds = []EntityKind{KindExperimentSet, KindExperiment, KindScoreSet}

func (k EntityKind) Valid() bool {
	switch k {
	case KindExperimentSet, KindExperiment, KindScoreSet:
		return true
	}
	return false
}

func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// Protected is anything that carries per-object role groups.
type Protected interface {
	Kind() EntityKind
	PrimaryKey() uint64
}

// Entity is a protected dataset record.
type Entity interface {
	Protected
	Dataset() *DatasetModel
}

// Processing states of a score set's variant ingestion.
const (
	ProcessingNone       = ""
	ProcessingInProgress = "processing"
	ProcessingSuccess    = "success"
	ProcessingFailed     = "failed"
)

// DatasetModel holds the fields shared by experiment sets, experiments and
// score sets.
type DatasetModel struct {
	ID               uint64 `gorm:"primaryKey"`
	URN              string `gorm:"uniqueIndex;size:64;not null"`
	Title            string `gorm:"size:250"`
	ShortDescription string
	AbstractText     string
	MethodText       string
	Keywords         []string          `gorm:"serializer:json"`
	ExtraMetadata    map[string]string `gorm:"serializer:json"`
	Private          bool
	Approved         bool
	LastChildValue   int `gorm:"not null;default:0"`
	CreatedByID      uint64
	ModifiedByID     uint64
	PublishedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (m DatasetModel) PrimaryKey() uint64 { return m.ID }

func (m *DatasetModel) Dataset() *DatasetModel { return m }

type ExperimentSet struct {
	DatasetModel
}

func (ExperimentSet) Kind() EntityKind { return KindExperimentSet }

type Experiment struct {
	DatasetModel
	ExperimentSetID uint64 `gorm:"index;not null"`
}

func (Experiment) Kind() EntityKind { return KindExperiment }

type ScoreSet struct {
	DatasetModel
	ExperimentID     uint64   `gorm:"index;not null"`
	ScoreColumns     []string `gorm:"serializer:json"`
	CountColumns     []string `gorm:"serializer:json"`
	PrimaryHGVS      string   `gorm:"size:16"`
	ProcessingState  string   `gorm:"size:16"`
	ProcessingErrors string
}

func (ScoreSet) Kind() EntityKind { return KindScoreSet }

// Variant is one row of a score set's uploaded data.
type Variant struct {
	ID         uint64              `gorm:"primaryKey"`
	URN        string              `gorm:"uniqueIndex;size:80;not null"`
	ScoreSetID uint64              `gorm:"index;not null"`
	HGVSNt     *string             `gorm:"column:hgvs_nt"`
	HGVSPro    *string             `gorm:"column:hgvs_pro"`
	ScoreData  map[string]*float64 `gorm:"serializer:json"`
	CountData  map[string]*float64 `gorm:"serializer:json"`
	CreatedAt  time.Time
}

// TaskFailure records a background job that did not complete.
type TaskFailure struct {
	ID         string `gorm:"primaryKey;size:36"`
	Task       string `gorm:"size:64;not null"`
	ScoreSetID uint64 `gorm:"index"`
	UserID     uint64
	Error      string
	CreatedAt  time.Time
}
