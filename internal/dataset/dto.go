package dataset

import (
	"time"

	"mavedb/internal/domain"
	"mavedb/internal/utils"
)

type CreateExperimentSetRequest struct {
	Title            string            `json:"title" binding:"required,max=250"`
	ShortDescription string            `json:"short_description" binding:"required"`
	AbstractText     string            `json:"abstract_text"`
	MethodText       string            `json:"method_text"`
	Keywords         []string          `json:"keywords" binding:"max=50,dive,max=100"`
	ExtraMetadata    map[string]string `json:"extra_metadata"`
}

type CreateExperimentRequest struct {
	CreateExperimentSetRequest
	// zero creates a new experiment set for the experiment
	ExperimentSetID uint64 `json:"experiment_set_id"`
}

type CreateScoreSetRequest struct {
	CreateExperimentSetRequest
	ExperimentID uint64 `json:"experiment_id" binding:"required"`
}

type UpdateRequest struct {
	Title            *string           `json:"title" binding:"omitempty,min=1,max=250"`
	ShortDescription *string           `json:"short_description"`
	AbstractText     *string           `json:"abstract_text"`
	MethodText       *string           `json:"method_text"`
	Keywords         []string          `json:"keywords" binding:"omitempty,max=50,dive,max=100"`
	ExtraMetadata    map[string]string `json:"extra_metadata"`
}

type RoleListRequest struct {
	UserIDs []uint64 `json:"user_ids" binding:"required"`
}

func (r CreateExperimentSetRequest) apply(d *domain.DatasetModel) {
	d.Title = r.Title
	d.ShortDescription = r.ShortDescription
	d.AbstractText = r.AbstractText
	d.MethodText = r.MethodText
	d.Keywords = r.Keywords
	d.ExtraMetadata = r.ExtraMetadata
}

// apply copies the fields present in the request and returns their column names.
func (r UpdateRequest) apply(d *domain.DatasetModel) []string {
	var columns []string
	if r.Title != nil {
		d.Title = *r.Title
		columns = append(columns, "title")
	}
	if r.ShortDescription != nil {
		d.ShortDescription = *r.ShortDescription
		columns = append(columns, "short_description")
	}
	if r.AbstractText != nil {
		d.AbstractText = *r.AbstractText
		columns = append(columns, "abstract_text")
	}
	if r.MethodText != nil {
		d.MethodText = *r.MethodText
		columns = append(columns, "method_text")
	}
	if r.Keywords != nil {
		d.Keywords = r.Keywords
		columns = append(columns, "keywords")
	}
	if r.ExtraMetadata != nil {
		d.ExtraMetadata = r.ExtraMetadata
		columns = append(columns, "extra_metadata")
	}
	return columns
}

type EntityDTO struct {
	ID               uint64            `json:"id"`
	URN              string            `json:"urn"`
	Kind             domain.EntityKind `json:"kind"`
	Title            string            `json:"title"`
	ShortDescription string            `json:"short_description"`
	AbstractText     string            `json:"abstract_text"`
	MethodText       string            `json:"method_text"`
	Keywords         []string          `json:"keywords"`
	ExtraMetadata    map[string]string `json:"extra_metadata,omitempty"`
	Private          bool              `json:"private"`
	Approved         bool              `json:"approved"`
	PublishedAt      *time.Time        `json:"published_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	ExperimentSetID  uint64            `json:"experiment_set_id,omitempty"`
	ExperimentID     uint64            `json:"experiment_id,omitempty"`
	ScoreColumns     []string          `json:"score_columns,omitempty"`
	CountColumns     []string          `json:"count_columns,omitempty"`
	PrimaryHGVS      string            `json:"primary_hgvs,omitempty"`
	ProcessingState  string            `json:"processing_state,omitempty"`
	ProcessingErrors string            `json:"processing_errors,omitempty"`
	Role             string            `json:"role,omitempty"`
}

func toEntityDTO(e domain.Entity) EntityDTO {
	d := e.Dataset()
	keywords := d.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	dto := EntityDTO{
		ID:               d.ID,
		URN:              d.URN,
		Kind:             e.Kind(),
		Title:            d.Title,
		ShortDescription: d.ShortDescription,
		AbstractText:     d.AbstractText,
		MethodText:       d.MethodText,
		Keywords:         keywords,
		ExtraMetadata:    d.ExtraMetadata,
		Private:          d.Private,
		Approved:         d.Approved,
		PublishedAt:      d.PublishedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	switch v := e.(type) {
	case *domain.Experiment:
		dto.ExperimentSetID = v.ExperimentSetID
	case *domain.ScoreSet:
		dto.ExperimentID = v.ExperimentID
		dto.ScoreColumns = v.ScoreColumns
		dto.CountColumns = v.CountColumns
		dto.PrimaryHGVS = v.PrimaryHGVS
		dto.ProcessingState = v.ProcessingState
		dto.ProcessingErrors = v.ProcessingErrors
	}
	return dto
}

func toEntityDTOs(entities []domain.Entity) []EntityDTO {
	dtos := make([]EntityDTO, 0, len(entities))
	for _, e := range entities {
		dtos = append(dtos, toEntityDTO(e))
	}
	return dtos
}

type PaginatedEntities struct {
	Data []EntityDTO          `json:"data"`
	Meta utils.PaginationMeta `json:"meta"`
}

type VariantDTO struct {
	URN     string              `json:"urn"`
	HGVSNt  *string             `json:"hgvs_nt"`
	HGVSPro *string             `json:"hgvs_pro"`
	Scores  map[string]*float64 `json:"scores"`
	Counts  map[string]*float64 `json:"counts"`
}

type PaginatedVariants struct {
	Data []VariantDTO         `json:"data"`
	Meta utils.PaginationMeta `json:"meta"`
}

func toVariantDTOs(variants []domain.Variant) []VariantDTO {
	dtos := make([]VariantDTO, 0, len(variants))
	for _, v := range variants {
		dtos = append(dtos, VariantDTO{
			URN:     v.URN,
			HGVSNt:  v.HGVSNt,
			HGVSPro: v.HGVSPro,
			Scores:  v.ScoreData,
			Counts:  v.CountData,
		})
	}
	return dtos
}

type ContributorDTO struct {
	User domain.SafeUser `json:"user"`
	Role string          `json:"role"`
}
