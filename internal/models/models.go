package models

import "time"

// User represents an account within the GeoClip platform.
type User struct {
	ID        string
	Email     string
	Phone     *string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile converts the stored user into the record returned by GET /api/me.
func (u User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Email:     u.Email,
		Phone:     u.Phone,
		CreatedAt: Timestamp{Time: u.CreatedAt},
	}
}

// Profile is the public view of a user account.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone"`
	CreatedAt Timestamp `json:"created_at"`
}

// PhoneNumber returns the stored phone number or an empty string.
func (p Profile) PhoneNumber() string {
	if p.Phone == nil {
		return ""
	}
	return *p.Phone
}

// Video is a stored clip. The bytes live in object storage under AssetKey.
type Video struct {
	ID             string
	OwnerID        string
	MediaType      string
	AssetKey       string
	SizeBytes      int64
	LocationLat    *float64
	LocationLng    *float64
	PhoneNumber    *string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Summary returns the list representation of the video.
func (v Video) Summary() VideoSummary {
	return VideoSummary{
		ID:          v.ID,
		Timestamp:   Timestamp{Time: v.CreatedAt},
		LocationLat: v.LocationLat,
		LocationLng: v.LocationLng,
		PhoneNumber: v.PhoneNumber,
	}
}

// VideoSummary is returned by GET /api/videos.
type VideoSummary struct {
	ID          string    `json:"id"`
	Timestamp   Timestamp `json:"timestamp"`
	LocationLat *float64  `json:"location_lat"`
	LocationLng *float64  `json:"location_lng"`
	PhoneNumber *string   `json:"phone_number"`
}

// HasLocation reports whether both coordinates are present.
func (s VideoSummary) HasLocation() bool {
	return s.LocationLat != nil && s.LocationLng != nil
}

// VideoDetail is returned by GET /api/videos/{id}.
type VideoDetail struct {
	VideoSummary
	UserID    string `json:"user_id,omitempty"`
	VideoData string `json:"video_data"`
}

// UploadRequest is the capture result submitted to POST /api/videos/upload.
type UploadRequest struct {
	VideoData   string   `json:"video_data"`
	LocationLat *float64 `json:"location_lat"`
	LocationLng *float64 `json:"location_lng"`
	PhoneNumber *string  `json:"phone_number"`
}

// UploadResponse acknowledges a stored upload.
type UploadResponse struct {
	Message string `json:"message"`
	VideoID string `json:"video_id"`
}

// Credentials carries login input.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration carries sign-up input. Phone is optional.
type Registration struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Phone    *string `json:"phone,omitempty"`
}

// AccessToken is the bearer credential issued by login and register.
type AccessToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"-"`
}
