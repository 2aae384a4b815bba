package domain

import "time"

// Category enumerates supported garment categories.
type Category string

const (
	CategoryTops      Category = "tops"
	CategoryBottoms   Category = "bottoms"
	CategoryOnePieces Category = "one-pieces"
)

// Valid reports whether c is one of the supported categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryTops, CategoryBottoms, CategoryOnePieces:
		return true
	}
	return false
}

// Mode trades generation speed for quality.
type Mode string

const (
	ModePerformance Mode = "performance"
	ModeBalanced    Mode = "balanced"
	ModeQuality     Mode = "quality"
)

func (m Mode) Valid() bool {
	switch m {
	case ModePerformance, ModeBalanced, ModeQuality:
		return true
	}
	return false
}

// ArtifactRole identifies one of the three images tied to a generation.
type ArtifactRole string

const (
	ArtifactModel   ArtifactRole = "model"
	ArtifactGarment ArtifactRole = "garment"
	ArtifactResult  ArtifactRole = "result"
)

// ArtifactRoles lists the roles in their canonical order.
var ArtifactRoles = []ArtifactRole{ArtifactModel, ArtifactGarment, ArtifactResult}

// Image is a caller-supplied binary image payload.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}

// GenerationRecord is the persisted metadata row tying a user to the three
// artifact paths and run parameters.
type GenerationRecord struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	ModelImagePath   string    `json:"model_image_path"`
	GarmentImagePath string    `json:"garment_image_path"`
	ResultImagePath  string    `json:"result_image_path"`
	Category         Category  `json:"category"`
	Mode             Mode      `json:"mode"`
	CreatedAt        time.Time `json:"created_at"`
	ProcessingTime   string    `json:"processing_time,omitempty"`
	ModelImageSize   int64     `json:"model_image_size,omitempty"`
	GarmentImageSize int64     `json:"garment_image_size,omitempty"`
	ResultImageSize  int64     `json:"result_image_size,omitempty"`
}

// Path returns the storage path recorded for role.
func (r *GenerationRecord) Path(role ArtifactRole) string {
	switch role {
	case ArtifactModel:
		return r.ModelImagePath
	case ArtifactGarment:
		return r.GarmentImagePath
	case ArtifactResult:
		return r.ResultImagePath
	}
	return ""
}

// Buckets maps each artifact role to its storage bucket.
type Buckets struct {
	Model   string
	Garment string
	Result  string
}

// DefaultBuckets returns the bucket names used by the hosted backend.
func DefaultBuckets() Buckets {
	return Buckets{
		Model:   "generations-model-images",
		Garment: "generations-garment-images",
		Result:  "generations-result-images",
	}
}

// For returns the bucket for role.
func (b Buckets) For(role ArtifactRole) string {
	switch role {
	case ArtifactModel:
		return b.Model
	case ArtifactGarment:
		return b.Garment
	case ArtifactResult:
		return b.Result
	}
	return ""
}
