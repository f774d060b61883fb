package models

// Catalog reference data. Managed outside this service; only read here.

type Category struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:64;uniqueIndex;not null" json:"name"`
}

type Track struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	CategoryID     uint   `gorm:"index;not null" json:"category_id"`
	Title          string `gorm:"size:255;not null" json:"title"`
	YoutubeVideoID string `gorm:"size:32" json:"youtube_video_id"`
	CoverImageURL  string `gorm:"size:512" json:"cover_image_url"`
}

// TrackAnswer is one accepted answer for a track. Normalized holds the
// canonical form produced by textnorm.Normalize.
type TrackAnswer struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	TrackID    uint   `gorm:"index;not null" json:"track_id"`
	AnswerText string `gorm:"size:255;not null" json:"answer_text"`
	Normalized string `gorm:"size:255;not null;index" json:"normalized"`
}
